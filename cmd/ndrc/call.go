package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/ndr-runtime/client"
	"github.com/wippyai/ndr-runtime/config"
	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/examples/calc"
	"github.com/wippyai/ndr-runtime/idl"
	"github.com/wippyai/ndr-runtime/server"
)

func newCallCommand(root *rootOptions) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "call <method> [args...]",
		Short: "Call a Calc method on the configured client endpoint",
		Long: `Call a Calc method on the configured client endpoint and print the
result. Integer arguments accept decimal, 0x hex and 0o octal; text
arguments are passed as given.

ncalrpc endpoints only exist inside one process, so with the ncalrpc
protocol sequence call hosts the Calc interface itself.

Example:
  ndrc call add 2 3
  ndrc call get_length "hello world"
  ndrc call multiply -- -4 5
  ndrc call -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !interactive && len(args) == 0 {
				return commandError(fmt.Errorf("call needs a method name, or -i"))
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return withClient(ctx, root.cfg, root.log, func(cl *client.Client) error {
				if interactive {
					return runInteractive(ctx, cl)
				}
				result, err := invoke(ctx, cl, args[0], args[1:])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "pick methods and arguments in a TUI")
	return cmd
}

// withClient dials the configured client binding and runs fn.
func withClient(ctx context.Context, cfg *config.Config, log *zap.Logger, fn func(*client.Client) error) error {
	binding := cfg.ClientBinding()
	if cfg.Client.Protseq == string(engine.ProtocolLocal) {
		srv, err := server.New(calc.Interface(), calc.New(log.Named("calc")))
		if err != nil {
			return err
		}
		if err := srv.Register(ctx, binding); err != nil {
			return err
		}
		defer srv.Stop(context.WithoutCancel(ctx))
		if err := srv.ListenAsync(ctx); err != nil {
			return err
		}
	}

	opts := []client.Option{client.WithCallTimeout(cfg.Client.CallTimeout)}
	if s, ok, _ := cfg.Client.TransferSyntax(); ok {
		opts = append(opts, client.WithSyntax(s))
	}
	cl, err := client.Dial(ctx, binding, calc.Interface(), opts...)
	if err != nil {
		return err
	}
	defer cl.Close()
	return fn(cl)
}

// invoke parses raw arguments against the method's parameter types and
// calls it. Void methods print "ok".
func invoke(ctx context.Context, cl *client.Client, method string, raw []string) (string, error) {
	stub := cl.Stub(method)
	m := stub.Method()
	if m == nil {
		return "", commandError(fmt.Errorf("unknown method %q", method))
	}
	if len(raw) != len(m.Params) {
		return "", commandError(fmt.Errorf("%s takes %d arguments, got %d", m.Name, len(m.Params), len(raw)))
	}
	args := make([]any, len(raw))
	for i, s := range raw {
		v, err := parseArg(m.Params[i].Type, s)
		if err != nil {
			return "", commandError(fmt.Errorf("%s: %w", m.Params[i].Name, err))
		}
		args[i] = v
	}
	result, err := stub.Invoke(ctx, args...)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "ok", nil
	}
	return fmt.Sprint(result), nil
}

func parseArg(t idl.Type, s string) (any, error) {
	switch {
	case t.Kind() == idl.KindText:
		return s, nil
	case t.Signed():
		return strconv.ParseInt(s, 0, t.Width()*8)
	default:
		return strconv.ParseUint(s, 0, t.Width()*8)
	}
}

func signature(m *idl.Method) (params []string, result string) {
	for _, p := range m.Params {
		params = append(params, p.Name+": "+p.Type.String())
	}
	if !m.Return.IsVoid() {
		result = m.Return.String()
	}
	return params, result
}
