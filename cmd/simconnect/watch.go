package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	libsimconnect_bridge "github.com/atframework/libsimconnect-go/bridge"
	error_code "github.com/atframework/libsimconnect-go/error_code"
	impl "github.com/atframework/libsimconnect-go/impl"
	types "github.com/atframework/libsimconnect-go/types"
)

// writerSink prints one update per line.
type writerSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *writerSink) Name() string { return "stdout" }

func (s *writerSink) Publish(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, strings.TrimRight(string(payload), "\n"))
	return err
}

func (s *writerSink) Close() error { return nil }

// parseVariableFlag reads NAME:unit:type, unit and type default to an empty unit and float64.
func parseVariableFlag(value string) (impl.Variable, error) {
	parts := strings.Split(value, ":")
	v := impl.Variable{
		Name:     strings.TrimSpace(parts[0]),
		DataType: types.DataTypeFloat64,
		DatumID:  types.UnusedID,
	}
	if v.Name == "" || len(parts) > 3 {
		return v, fmt.Errorf("variable %q: %w", value, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
	}
	if len(parts) > 1 {
		v.Unit = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		t, ok := types.ParseDataType(parts[2])
		if !ok {
			return v, fmt.Errorf("variable %q type: %w", value, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
		}
		v.DataType = t
	}
	return v, nil
}

type subscriptionFlags struct {
	variables    []string
	events       []string
	period       string
	format       string
	definitionID uint32
}

func (f *subscriptionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.variables, "var", nil, "variable as NAME:unit:type, repeatable")
	cmd.Flags().StringArrayVar(&f.events, "event", nil, "event name to subscribe, repeatable")
	cmd.Flags().StringVar(&f.period, "period", "", "once, every-frame, every-second or on-change")
	cmd.Flags().StringVar(&f.format, "format", "", "json or text")
	cmd.Flags().Uint32Var(&f.definitionID, "definition-id", 0, "definition id used for the variables")
}

// options starts from the bridge section and applies the flags on top.
func (f *subscriptionFlags) options(app *appContext) (libsimconnect_bridge.Options, error) {
	opts := libsimconnect_bridge.Options{}
	if err := app.conf.ToBridgeOptions(&opts); err != nil {
		return opts, err
	}

	if len(f.variables) > 0 {
		opts.Variables = opts.Variables[:0]
		for _, value := range f.variables {
			v, err := parseVariableFlag(value)
			if err != nil {
				return opts, err
			}
			opts.Variables = append(opts.Variables, v)
		}
	}
	if len(f.events) > 0 {
		opts.Events = f.events
	}
	if f.period != "" {
		p, ok := types.ParsePeriod(f.period)
		if !ok {
			return opts, fmt.Errorf("period %q: %w", f.period, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
		}
		opts.Period = p
	}
	if f.format != "" {
		format, ok := libsimconnect_bridge.ParseFormat(f.format)
		if !ok {
			return opts, fmt.Errorf("format %q: %w", f.format, error_code.EN_SIMCONNECT_ERR_INVALID_INPUT)
		}
		opts.Format = format
	}
	if f.definitionID != 0 {
		opts.DefinitionID = types.DefinitionID(f.definitionID)
	}
	return opts, nil
}

func newWatchCommand(app *appContext) *cobra.Command {
	flags := &subscriptionFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print data updates and events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(app)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			c, err := app.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			b := libsimconnect_bridge.NewBridge(c, opts, &writerSink{out: cmd.OutOrStdout()})
			defer b.Close()
			return b.Run(ctx)
		},
	}
	flags.register(cmd)
	return cmd
}
