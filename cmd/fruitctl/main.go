package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"fruitlog/pkg/client"
	"fruitlog/pkg/storage"
)

const usage = `usage: fruitctl [-api URL] [-timeout D] <command> [args]

commands:
  list                 print every log, newest first
  add -fruit F [...]   record a tasting
  delete <id>          remove a log
  top [-n N]           the most recent logs, like the web client's top picks
`

func main() {
	var (
		apiURL  string
		timeout time.Duration
	)

	defaultURL := os.Getenv("FRUITLOG_API")
	if defaultURL == "" {
		defaultURL = "http://localhost:5000"
	}

	flag.StringVar(&apiURL, "api", defaultURL, "Base URL of the fruitlog API.")
	flag.DurationVar(&timeout, "timeout", client.DefaultTimeout, "Per-request timeout.")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(apiURL, client.WithTimeout(timeout))
	ctx := context.Background()

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "list":
		err = list(ctx, c, os.Stdout)
	case "add":
		err = add(ctx, c, args, os.Stdout)
	case "delete":
		err = remove(ctx, c, args, os.Stdout)
	case "top":
		err = top(ctx, c, args, os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("[fruitctl] %v", err)
	}
}

func list(ctx context.Context, c *client.Client, w io.Writer) error {
	logs, err := c.Logs(ctx)
	if err != nil {
		return err
	}
	return printLogs(w, logs)
}

func add(ctx context.Context, c *client.Client, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	var l client.NewLog
	fs.StringVar(&l.Date, "date", time.Now().Format(time.DateOnly), "Tasting date, YYYY-MM-DD.")
	fs.StringVar(&l.Fruit, "fruit", "", "Fruit name.")
	fs.StringVar(&l.Origin, "origin", "", "Where the fruit comes from.")
	fs.IntVar(&l.Rating, "rating", 3, "Rating.")
	fs.StringVar(&l.Store, "store", "", "Where it was bought.")
	fs.StringVar(&l.UserRegion, "region", "", "Region, the server defaults to "+storage.DefaultRegion+".")
	fs.Parse(args)

	if l.Fruit == "" {
		return fmt.Errorf("add: -fruit is required")
	}

	created, err := c.AddLog(ctx, l)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "created log %d\n", created.ID)
	return nil
}

func remove(ctx context.Context, c *client.Client, args []string, w io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("delete: exactly one id expected")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("delete: invalid id %q", args[0])
	}

	if err := c.DeleteLog(ctx, id); err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("delete: log %d does not exist", id)
		}
		return err
	}
	fmt.Fprintf(w, "deleted log %d\n", id)
	return nil
}

func top(ctx context.Context, c *client.Client, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	n := fs.Int("n", client.DefaultTopPicks, "Number of logs.")
	fs.Parse(args)

	logs, err := c.Logs(ctx)
	if err != nil {
		return err
	}
	return printLogs(w, client.TopPicks(logs, *n))
}

func printLogs(w io.Writer, logs []storage.Log) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFRUIT\tRATING\tORIGIN\tSTORE\tREGION")
	for _, l := range logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n", l.ID, l.Date, l.Fruit, l.Rating, l.Origin, l.Store, l.Region)
	}
	return tw.Flush()
}
