package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ndr-runtime/client"
	"github.com/wippyai/ndr-runtime/config"
	"github.com/wippyai/ndr-runtime/examples/calc"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(err error) int {
	var ee *exitError
	if stderrors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"dump", "serve", "call"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	call, _, _ := cmd.Find([]string{"call"})
	assert.Equal(t, "i", call.Flags().Lookup("interactive").Shorthand)
}

func TestDumpText(t *testing.T) {
	out, err := execute(t, "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "interface Calc "+calc.ID.String())
	assert.Contains(t, out, "ndr64 proc stream")
	assert.Contains(t, out, "client links")
	assert.Contains(t, out, "StubDesc.InterfaceInfo -> ServerInterface [ok]")
	assert.NotContains(t, out, "BROKEN")
}

func TestDumpYAML(t *testing.T) {
	out, err := execute(t, "dump", "--format", "yaml")
	require.NoError(t, err)

	var d dump
	require.NoError(t, yaml.Unmarshal([]byte(out), &d))
	assert.Equal(t, "Calc", d.Interface)
	methods := len(calc.Interface().Methods)
	assert.Len(t, d.Procs, 2*methods)
	assert.Len(t, d.Layouts, 2*methods)
	for _, l := range append(d.Client, d.Server...) {
		assert.True(t, l.OK, l.String())
	}
}

func TestDumpHex(t *testing.T) {
	out, err := execute(t, "dump", "-f", "hex")
	require.NoError(t, err)
	assert.Contains(t, out, "ndr type\n00000000")
	assert.Contains(t, out, "ndr64 proc\n")
}

func TestDumpInvalidFormat(t *testing.T) {
	_, err := execute(t, "dump", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestCall(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"add", "2", "3"}, "5\n"},
		{[]string{"multiply", "4", "0x10"}, "64\n"},
		{[]string{"get_length", "hello world"}, "11\n"},
		{[]string{"echo_string", calc.Greeting}, "42\n"},
		{[]string{"no_params"}, "4294967296\n"},
		{[]string{"reset"}, "ok\n"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			out, err := execute(t, append([]string{"call"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCallSyntaxFromEnv(t *testing.T) {
	t.Setenv("NDR_CLIENT_SYNTAX", "ndr")
	out, err := execute(t, "call", "strlen", "héllo")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)
}

func TestCallErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no method", nil},
		{"unknown method", []string{"divide", "1", "2"}},
		{"arity", []string{"add", "1"}},
		{"not a number", []string{"add", "one", "2"}},
		{"overflow", []string{"single_param_return", "4294967296"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"call"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, exitCommandError, exitCode(err))
		})
	}
}

func TestBadConfig(t *testing.T) {
	t.Setenv("NDR_LOG_LEVEL", "chatty")
	_, err := execute(t, "dump")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestServe(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Endpoint = "serve-" + uuid.NewString()[:8]
	cfg.Server.Workers = 2
	cfg.Client.Endpoint = cfg.Server.Endpoint

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- serve(ctx, &cfg, zap.NewNop(), ready) }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve not ready")
	}

	cl, err := client.Dial(ctx, cfg.ClientBinding(), calc.Interface())
	require.NoError(t, err)
	got, err := cl.Stub("add").Invoke(ctx, int32(20), int32(22))
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)
	require.NoError(t, cl.Close())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestInteractiveModel(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Client.Endpoint = "tui-" + uuid.NewString()[:8]

	err := withClient(ctx, &cfg, zap.NewNop(), func(cl *client.Client) error {
		m := newInteractiveModel(ctx, cl)
		assert.Contains(t, m.View(), "add(")

		// move to get_length (ordinal 4)
		for i := 0; i < 4; i++ {
			m.Update(tea.KeyMsg{Type: tea.KeyDown})
		}
		assert.Equal(t, "get_length", m.methods[m.selected].Name)

		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		require.Equal(t, stateInputArgs, m.state)
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("quick")})
		assert.Equal(t, "quick", m.inputs[0].Value())

		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		require.NotNil(t, cmd)
		m.Update(cmd())
		assert.Equal(t, stateShowResult, m.state)
		require.NoError(t, m.err)
		assert.Equal(t, "5", m.result)
		assert.Contains(t, m.View(), "Result of")

		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.Equal(t, stateSelectMethod, m.state)
		return nil
	})
	require.NoError(t, err)
}
