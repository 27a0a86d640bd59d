// cmd/earthcask-cli is the CLI entry-point built with Cobra.
//
// Usage:
//
//	earthcask-cli write +todos.abc123 /todos/item1 "buy milk"  --server http://localhost:8080
//	earthcask-cli get +todos.abc123 /todos/item1                --server http://localhost:8080
//	earthcask-cli query +todos.abc123 --path-starts-with /todos/ --server http://localhost:8080
//	earthcask-cli shares                                         --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/earthcask/earthcask/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "earthcask-cli",
		Short: "CLI client for an earthcask node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "earthcask node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(writeCmd(), getCmd(), queryCmd(), sharesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── write ──────────────────────────────────────────────────────────────

func writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <share> <path> <content>",
		Short: "Write a document to a share",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Write(context.Background(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── get ────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <share> <path>",
		Short: "Retrieve the current document at a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			d, err := c.LatestAtPath(context.Background(), args[0], args[1])
			if err == client.ErrNotFound {
				fmt.Printf("no document at %q\n", args[1])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(d)
			return nil
		},
	}
}

// ─── query ──────────────────────────────────────────────────────────────

func queryCmd() *cobra.Command {
	var (
		history        string
		orderBy        string
		desc           bool
		path           string
		pathStartsWith string
		author         string
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "query <share>",
		Short: "Run a closed query against a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			docs, err := c.Query(context.Background(), args[0], client.QueryOptions{
				History:        history,
				OrderBy:        orderBy,
				Desc:           desc,
				Path:           path,
				PathStartsWith: pathStartsWith,
				Author:         author,
				Limit:          limit,
			})
			if err != nil {
				return err
			}
			prettyPrint(docs)
			return nil
		},
	}

	cmd.Flags().StringVar(&history, "history", "latest", "latest or all")
	cmd.Flags().StringVar(&orderBy, "order-by", "path", "path or localIndex")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().StringVar(&path, "path", "", "exact path filter")
	cmd.Flags().StringVar(&pathStartsWith, "path-starts-with", "", "path prefix filter")
	cmd.Flags().StringVar(&author, "author", "", "author address filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results, 0 = unlimited")
	return cmd
}

// ─── shares ─────────────────────────────────────────────────────────────

func sharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shares",
		Short: "List the shares a node hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			shares, err := c.Shares(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(shares)
			return nil
		},
	}
}

// ─── helpers ────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
