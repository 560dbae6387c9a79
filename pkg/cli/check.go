package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haolipeng/trident_firewall/pkg/ruleEngine"
	"github.com/haolipeng/trident_firewall/pkg/types"
	"github.com/spf13/cobra"
)

// ErrPacketDenied --strict 模式下数据包被拒绝
var ErrPacketDenied = errors.New("packet denied")

type checkOptions struct {
	rules     []string
	ruleFiles []string
	protocol  string
	port      int
	attrs     []string
	strict    bool
	format    string
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decide a single packet against a rule set",
		Long: `Loads rules and decides one packet description.

Examples:
  # Textual rules and protocol/port query
  trident check --rule "ALLOW tcp 80" --rule "DENY udp 53" --protocol tcp --port 80

  # Rule files with arbitrary attributes
  trident check --rules-file rules --attr src_ip=10.0.0.5 --attr port=22

  # Non-zero exit status when denied
  trident check --rules-file rules --protocol tcp --port 22 --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.rules, "rule", nil, `Textual rule "ACTION PROTOCOL PORT" (repeatable)`)
	cmd.Flags().StringArrayVar(&opts.ruleFiles, "rules-file", nil, "Rule file or directory (repeatable)")
	cmd.Flags().StringVar(&opts.protocol, "protocol", "", "Packet protocol")
	cmd.Flags().IntVar(&opts.port, "port", -1, "Packet port")
	cmd.Flags().StringArrayVar(&opts.attrs, "attr", nil, "Packet attribute key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit with an error when the packet is denied")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text or json")
	return cmd
}

func (o *checkOptions) packet() (types.Attributes, error) {
	attrs := make(types.Attributes)
	for _, raw := range o.attrs {
		key, value, err := parseAttr(raw)
		if err != nil {
			return nil, err
		}
		attrs[key] = value
	}
	if o.protocol != "" {
		attrs[ruleEngine.AttrProtocol] = types.StringValue(strings.ToLower(o.protocol))
	}
	if o.port >= 0 {
		attrs[ruleEngine.AttrPort] = types.IntValue(int64(o.port))
	}
	if len(attrs) == 0 {
		return nil, fmt.Errorf("no packet given: use --protocol/--port or --attr")
	}
	return attrs, nil
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	packet, err := opts.packet()
	if err != nil {
		return err
	}
	engine, err := buildEngine(opts.ruleFiles, opts.rules)
	if err != nil {
		return err
	}

	decision := engine.Decide(packet)
	out := cmd.OutOrStdout()

	if opts.format == "json" {
		data, err := json.Marshal(struct {
			Packet types.Attributes `json:"packet"`
			types.Decision
		}{Packet: packet, Decision: decision})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		line := decision.Verdict.String() + " (" + decision.Match.String()
		if decision.RuleID != "" {
			if rule, ok := engine.GetRule(decision.RuleID); ok {
				line += ": " + rule.String()
			}
		}
		fmt.Fprintln(out, line+")")
	}

	if opts.strict && !decision.Verdict.Allowed() {
		return ErrPacketDenied
	}
	return nil
}
