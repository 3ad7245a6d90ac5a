package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"trades-signal/internal/queue"
	"trades-signal/internal/wire"
)

func newQueueCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "查看队列状态与条目",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "输出各分区条目数量",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				consumer, err := queue.NewConsumer(e.cfg.Queue.Root, e.cfg.Queue.Suffix, e.logger)
				if err != nil {
					return err
				}
				return queueStats(cmd.OutOrStdout(), consumer)
			},
		},
		&cobra.Command{
			Use:   "show <entry>",
			Short: "校验并输出单个条目",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				consumer, err := queue.NewConsumer(e.cfg.Queue.Root, e.cfg.Queue.Suffix, e.logger)
				if err != nil {
					return err
				}
				return queueShow(cmd.OutOrStdout(), consumer, args[0])
			},
		},
	)
	return cmd
}

func queueStats(w io.Writer, consumer *queue.Consumer) error {
	stats, err := consumer.Counts()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// queueShow 定位条目所在分区，严格解码后输出原始载荷。
func queueShow(w io.Writer, consumer *queue.Consumer, name string) error {
	state, path, err := consumer.Locate(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取条目失败: %w", err)
	}

	fmt.Fprintf(w, "entry: %s\nstate: %s\n", name, state)
	in, err := wire.Decode(data)
	if err != nil {
		fmt.Fprintf(w, "invalid: %v\n", err)
		fmt.Fprintf(w, "%s\n", data)
		return nil
	}
	fmt.Fprintf(w, "intent: %s\n", in)

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", pretty.Bytes())
	return nil
}
