package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/panyam/livekit/client"
	"github.com/panyam/livekit/livequery"
)

type queryOptions struct {
	*rootOptions
	URL       string
	Name      string
	Role      string
	Variables string
	Operation string
}

func newQueryCommand(root *rootOptions) *cobra.Command {
	opts := &queryOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "query <document>",
		Short: "Run an operation against a livekit server",
		Long: `Run a GraphQL operation over WebSocket and print every result as JSON.

Live queries and subscriptions keep printing until interrupted.

Example:
  livekit query --name ada '{ noteCount }'
  livekit query --name ada 'query @live { notes { id title } }'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080/graphql", "server endpoint")
	cmd.Flags().StringVar(&opts.Name, "name", "", "user name to connect as")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role of the user")
	cmd.Flags().StringVar(&opts.Variables, "vars", "", "variables as a JSON object")
	cmd.Flags().StringVar(&opts.Operation, "operation", "", "operation name")
	return cmd
}

func (o *queryOptions) request(document string) (livequery.Request, error) {
	req := livequery.Request{Query: document, OperationName: o.Operation}
	if o.Variables != "" {
		if err := json.Unmarshal([]byte(o.Variables), &req.Variables); err != nil {
			return req, fmt.Errorf("invalid --vars: %w", err)
		}
	}
	return req, nil
}

func (o *queryOptions) params() map[string]any {
	params := map[string]any{}
	if o.Name != "" {
		params["name"] = o.Name
	}
	if o.Role != "" {
		params["role"] = o.Role
	}
	return params
}

func runQuery(cmd *cobra.Command, opts *queryOptions, document string) error {
	req, err := opts.request(document)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := client.Dial(ctx, opts.URL, client.WithParams(opts.params()), client.WithLogger(opts.logger()))
	if err != nil {
		return err
	}
	defer c.Close()

	op, err := c.Execute(c.NextID(), req)
	if err != nil {
		return err
	}
	defer op.Stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		msg, err := op.Next(ctx)
		switch {
		case errors.Is(err, client.ErrClosed), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}
		if err := enc.Encode(msg.Payload); err != nil {
			return err
		}
	}
}
