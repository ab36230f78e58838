package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pior/couchbase"
	"github.com/spf13/cobra"
)

type storeFunc func(b *couchbase.Bucket, key string, ttl time.Duration, flags uint32, value []byte) (uint64, error)

func kvCommands() []*cobra.Command {
	return []*cobra.Command{
		getCmd,
		storeCmd("set", "Store a document", (*couchbase.Bucket).Set),
		storeCmd("add", "Store a document only if the key is new", (*couchbase.Bucket).Add),
		storeCmd("replace", "Store a document only if the key exists", (*couchbase.Bucket).Replace),
		concatCmd("append", "Append to an existing document", (*couchbase.Bucket).Append),
		concatCmd("prepend", "Prepend to an existing document", (*couchbase.Bucket).Prepend),
		deleteCmd,
		counterCmd("incr", "Increment a counter", (*couchbase.Bucket).Incr),
		counterCmd("decr", "Decrement a counter", (*couchbase.Bucket).Decr),
		statsCmd,
		flushCmd,
		viewCmd,
	}
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Fetch a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBucket(func(b *couchbase.Bucket) error {
			res, err := b.Get(args[0])
			if err != nil {
				return err
			}
			if res.IsCounter {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", res.Counter)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.Value)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "flags=%d cas=%d\n", res.Flags, res.Cas)
			return nil
		})
	},
}

func storeCmd(name, short string, store storeFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name + " [key] [value]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			flags, _ := cmd.Flags().GetUint32("flags")
			return withBucket(func(b *couchbase.Bucket) error {
				cas, err := store(b, args[0], ttl, flags, []byte(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored cas=%d\n", cas)
				return nil
			})
		},
	}
	cmd.Flags().Duration("ttl", 0, "expiration of the document, 0 for none")
	cmd.Flags().Uint32("flags", 0, "opaque flags stored with the document")
	return cmd
}

func concatCmd(name, short string, concat func(b *couchbase.Bucket, key string, value []byte) (uint64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [key] [value]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBucket(func(b *couchbase.Bucket) error {
				cas, err := concat(b, args[0], []byte(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored cas=%d\n", cas)
				return nil
			})
		},
	}
}

var deleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete a document, or a design document when the key starts with _design/",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBucket(func(b *couchbase.Bucket) error {
			if err := b.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		})
	},
}

func counterCmd(name, short string, op func(b *couchbase.Bucket, key string, delta, initial uint64, ttl time.Duration) (uint64, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name + " [key]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, _ := cmd.Flags().GetUint64("delta")
			initial, _ := cmd.Flags().GetUint64("initial")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return withBucket(func(b *couchbase.Bucket) error {
				v, err := op(b, args[0], delta, initial, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	cmd.Flags().Uint64("delta", 1, "amount to add or subtract")
	cmd.Flags().Uint64("initial", 0, "value of a counter that does not exist yet")
	cmd.Flags().Duration("ttl", 0, "expiration of the counter, 0 for none")
	return cmd
}

var statsCmd = &cobra.Command{
	Use:   "stats [group]",
	Short: "Print the statistics of every node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group := ""
		if len(args) == 1 {
			group = args[0]
		}
		return withBucket(func(b *couchbase.Bucket) error {
			stats, err := b.Stats(group)
			if err != nil {
				return err
			}
			for _, s := range stats {
				if s.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\terror: %v\n", s.Server, s.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.Server, s.Name, s.Value)
			}
			return nil
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Delete every document of the bucket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("flush deletes every document, confirm with --yes")
		}
		return withBucket(func(b *couchbase.Bucket) error {
			acks, err := b.Flush()
			if err != nil {
				return err
			}
			for _, a := range acks {
				status := "ok"
				if a.Err != nil {
					status = a.Err.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", a.Server, status)
			}
			return nil
		})
	},
}

var viewCmd = &cobra.Command{
	Use:   "view [_design/ddoc/_view/name]",
	Short: "Query a view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringArray("param")
		params, err := parseViewParams(raw)
		if err != nil {
			return err
		}
		return withBucket(func(b *couchbase.Bucket) error {
			rows, err := b.View(args[0], params)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func init() {
	flushCmd.Flags().Bool("yes", false, "confirm the flush")
	viewCmd.Flags().StringArray("param", nil, "view parameter as name=value, repeatable; JSON values are decoded")
}

// parseViewParams turns name=value pairs into view parameters. Values that
// parse as JSON are passed decoded so key parameters are not double encoded.
func parseViewParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid view parameter %q, expected name=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[name] = decoded
		} else {
			params[name] = value
		}
	}
	return params, nil
}
