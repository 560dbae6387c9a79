package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/haolipeng/trident_firewall/pkg/pipeline"
	"github.com/haolipeng/trident_firewall/pkg/processor"
	"github.com/haolipeng/trident_firewall/pkg/sink"
	"github.com/haolipeng/trident_firewall/pkg/source"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type replayOptions struct {
	rules      []string
	ruleFiles  []string
	input      string
	output     string
	filter     string
	workers    int
	bufferSize int
}

func newReplayCmd() *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Decide every packet of a JSON Lines traffic file",
		Long: `Reads packet descriptions (one JSON object per line), decides each one and
writes the verdicts as JSON Lines.

Examples:
  trident replay --rules-file rules --input traffic.jsonl --output verdicts.jsonl
  cat traffic.jsonl | trident replay --rule "ALLOW tcp 80" --filter 'packet.protocol == "tcp"'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine(opts.ruleFiles, opts.rules)
			if err != nil {
				return err
			}
			summary, err := runReplay(cmd.Context(), engine, opts)
			if err != nil {
				return err
			}
			printSummary(cmd.ErrOrStderr(), summary)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&opts.rules, "rule", nil, `Textual rule "ACTION PROTOCOL PORT" (repeatable)`)
	cmd.Flags().StringArrayVar(&opts.ruleFiles, "rules-file", nil, "Rule file or directory (repeatable)")
	cmd.Flags().StringVar(&opts.input, "input", "-", "Traffic file, - for stdin")
	cmd.Flags().StringVar(&opts.output, "output", "-", "Verdict file, - for stdout")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "CEL filter over packet attributes")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "Attribute normalizer workers")
	cmd.Flags().IntVar(&opts.bufferSize, "buffer-size", 1000, "Source channel buffer size")
	return cmd
}

type replaySummary struct {
	Read     uint64
	Skipped  uint64
	Written  uint64
	Allowed  uint64
	Denied   uint64
	Failures uint64
}

// runReplay 组装 source -> 规范化 -> 规则引擎 -> sink 流水线，处理完整个输入后返回
func runReplay(ctx context.Context, engine *processor.RuleEngine, opts *replayOptions) (*replaySummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	src, err := source.NewTrafficFileSource(opts.input, opts.bufferSize)
	if err != nil {
		return nil, err
	}
	if err := src.SetFilter(opts.filter); err != nil {
		return nil, err
	}
	out, err := sink.NewVerdictFileSink(opts.output)
	if err != nil {
		return nil, err
	}

	p := pipeline.NewPipeline()
	p.SetSource(src)
	p.SetSink(out)
	if err := p.AddProcessor(processor.NewAttributeNormalizer(opts.workers)); err != nil {
		return nil, err
	}
	if err := p.AddProcessor(engine); err != nil {
		return nil, err
	}

	before := engine.Metrics().Snapshot()
	if err := p.Start(ctx); err != nil {
		out.Close()
		return nil, err
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		logrus.Info("Replay interrupted")
	}
	if err := p.Stop(); err != nil {
		return nil, fmt.Errorf("stop pipeline: %w", err)
	}

	after := engine.Metrics().Snapshot()
	srcStats := src.GetStats()
	sinkStats := out.GetStats()
	return &replaySummary{
		Read:     srcStats.PacketsRead,
		Skipped:  srcStats.ErrorCount,
		Written:  sinkStats.PacketsWritten,
		Allowed:  after.AllowedPackets - before.AllowedPackets,
		Denied:   after.DeniedPackets - before.DeniedPackets,
		Failures: sinkStats.WriteErrors,
	}, nil
}

func printSummary(w io.Writer, s *replaySummary) {
	fmt.Fprintf(w, "read=%d skipped=%d written=%d allowed=%d denied=%d write_errors=%d\n",
		s.Read, s.Skipped, s.Written, s.Allowed, s.Denied, s.Failures)
}
