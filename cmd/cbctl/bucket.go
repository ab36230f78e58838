package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pior/couchbase"
	"github.com/spf13/cobra"
)

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Administer the buckets of the cluster",
}

var bucketCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a bucket and wait until it serves requests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := bucketSpecFromFlags(cmd)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b, err := client.Create(ctx, args[0], spec)
		if err != nil {
			return err
		}
		defer b.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "bucket %s is ready\n", b.Name())
		return nil
	},
}

var bucketDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a bucket and all of its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bucket %s deleted\n", args[0])
		return nil
	},
}

var bucketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the buckets of the cluster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		buckets, err := client.Buckets()
		if err != nil {
			return err
		}
		for _, b := range buckets {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name, b.Type)
		}
		return nil
	},
}

func init() {
	flags := bucketCreateCmd.Flags()
	flags.String("spec", "", "YAML file holding the bucket spec; other flags override it")
	flags.String("type", "", "bucket type (couchbase, memcached)")
	flags.Int("ram-quota", 0, fmt.Sprintf("RAM quota in MB (default %d)", couchbase.DefaultRAMQuotaMB))
	flags.Int("replicas", 0, "number of replicas")
	flags.String("sasl-password", "", "password of the bucket")

	bucketCmd.AddCommand(bucketCreateCmd, bucketDeleteCmd, bucketListCmd)
}

func bucketSpecFromFlags(cmd *cobra.Command) (couchbase.BucketSpec, error) {
	var spec couchbase.BucketSpec

	flags := cmd.Flags()
	if path, _ := flags.GetString("spec"); path != "" {
		var err error
		if spec, err = couchbase.LoadBucketSpec(path); err != nil {
			return spec, err
		}
	}
	if flags.Changed("type") {
		spec.BucketType, _ = flags.GetString("type")
	}
	if flags.Changed("ram-quota") {
		spec.RAMQuotaMB, _ = flags.GetInt("ram-quota")
	}
	if flags.Changed("replicas") {
		spec.ReplicaNumber, _ = flags.GetInt("replicas")
	}
	if flags.Changed("sasl-password") {
		spec.SASLPassword, _ = flags.GetString("sasl-password")
	}
	return spec, nil
}
