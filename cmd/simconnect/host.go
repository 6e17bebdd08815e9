package main

import (
	"time"

	"github.com/spf13/cobra"

	hostsim "github.com/atframework/libsimconnect-go/hostsim"
	impl "github.com/atframework/libsimconnect-go/impl"
	types "github.com/atframework/libsimconnect-go/types"
)

type hostFlags struct {
	listen        string
	fps           uint32
	frameInterval time.Duration
	climbRate     float64
}

// seedWorld gives the simulated host a user aircraft and a few traffic objects.
func seedWorld(h *hostsim.Host) {
	h.SetVariable("TITLE", "Cessna Skyhawk G1000")
	h.SetVariable("PLANE ALTITUDE", 1500.0)
	h.SetVariable("PLANE LATITUDE", 47.4502)
	h.SetVariable("PLANE LONGITUDE", -122.3088)
	h.SetVariable("AIRSPEED INDICATED", int32(110))
	h.SetVariable("GENERAL ENG THROTTLE LEVER POSITION:1", 75.0)

	h.AddObject(1, types.SimObjectTypeAircraft, 3500)
	h.SetObjectVariable(1, "TITLE", "Boeing 737-800")
	h.SetObjectVariable(1, "PLANE ALTITUDE", 9000.0)
	h.AddObject(2, types.SimObjectTypeHelicopter, 12000)
	h.AddObject(3, types.SimObjectTypeBoat, 20000)

	h.SetSystemState("AircraftLoaded", impl.SystemState{String: "SimObjects/Airplanes/C172/aircraft.cfg"})
	h.SetSystemState("FlightLoaded", impl.SystemState{String: "flights/ksea.flt"})
	h.SetSystemState("DialogMode", impl.SystemState{Integer: 0})
	h.SetSystemState("Sim", impl.SystemState{Integer: 1})
}

func newHostCommand(app *appContext) *cobra.Command {
	flags := &hostFlags{}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the simulated host until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := &hostsim.HostConfigure{}
			if err := app.conf.ToHostConfigure(conf); err != nil {
				return err
			}
			if flags.listen != "" {
				conf.ListenAddress = flags.listen
			}
			if flags.fps > 0 {
				conf.FramesPerSecond = flags.fps
			}
			if flags.frameInterval > 0 {
				conf.FrameInterval = flags.frameInterval
			}
			if conf.FrameInterval <= 0 && conf.FramesPerSecond > 0 {
				conf.FrameInterval = time.Second / time.Duration(conf.FramesPerSecond)
			}

			h, err := hostsim.NewHost(conf, app.logger)
			if err != nil {
				return err
			}
			seedWorld(h)
			if err := h.Start(); err != nil {
				h.Stop()
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			app.logger.Info("simulated host listening", "address", h.Address(), "fps", conf.FramesPerSecond,
				"frame_interval", conf.FrameInterval)

			climb := time.NewTicker(time.Second)
			defer climb.Stop()
			altitude := 1500.0
			for {
				select {
				case <-ctx.Done():
					quitted := h.Quit()
					stats := h.Stats()
					h.Stop()
					app.logger.Info("simulated host stopped", "notified", quitted, "frames", stats.Frames,
						"requests", stats.RequestsHandled, "exceptions", stats.Exceptions)
					return nil
				case <-climb.C:
					if flags.climbRate != 0 {
						altitude += flags.climbRate
						h.SetVariable("PLANE ALTITUDE", altitude)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&flags.listen, "listen", "", "listen address, overrides host.listen_address")
	cmd.Flags().Uint32Var(&flags.fps, "fps", 0, "simulation frames per second")
	cmd.Flags().DurationVar(&flags.frameInterval, "frame-interval", 0, "wall clock time between frames")
	cmd.Flags().Float64Var(&flags.climbRate, "climb-rate", 10, "feet added to PLANE ALTITUDE every second")
	return cmd
}
