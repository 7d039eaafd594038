package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/mission-runtime/model"
)

// ErrUnknownCommand indicates a command name the vehicle does not support.
var ErrUnknownCommand = errors.New("unknown command")

// VehicleConfig is the operator-commanded configuration overlaid on every
// propagated frame. It is part of session determinism: frames depend only on
// (snapshot, elapsed, difficulty) plus this config.
type VehicleConfig struct {
	AttitudeMode  string
	AntennaStowed bool
	BatteryHeater bool
}

// DefaultVehicleConfig is the configuration a session starts with.
func DefaultVehicleConfig() VehicleConfig {
	return VehicleConfig{AttitudeMode: "NADIR"}
}

// CommandEffect is the deterministic outcome of applying one command to the
// session: an updated vehicle config plus any lifecycle request.
type CommandEffect struct {
	Config VehicleConfig

	AdvanceStep bool
	Pause       bool
	Resume      bool
	Abort       bool

	// Note is the human-readable TC log message.
	Note string
}

// ApplyCommand computes the effect of cmd on the current vehicle config.
// The result depends only on (cfg, cmd), never on wall time or randomness.
func ApplyCommand(cfg VehicleConfig, cmd model.Command) (CommandEffect, error) {
	eff := CommandEffect{Config: cfg}

	switch cmd.Name {
	case model.CmdPauseSession:
		eff.Pause = true
		eff.Note = "session paused by operator"
	case model.CmdResumeSession:
		eff.Resume = true
		eff.Note = "session resumed by operator"
	case model.CmdAbortSession:
		eff.Abort = true
		eff.Note = "session aborted by operator"
	case model.CmdAdvanceStep:
		eff.AdvanceStep = true
		eff.Note = "scenario step objective satisfied"
	case model.CmdSetAttitude:
		mode := cmd.Parameters["mode"]
		switch mode {
		case "NADIR", "SUN_POINTING", "SAFE":
			eff.Config.AttitudeMode = mode
			eff.Note = fmt.Sprintf("attitude mode set to %s", mode)
		default:
			return eff, fmt.Errorf("%w: %s mode %q", ErrUnknownCommand, cmd.Name, mode)
		}
	case model.CmdDeployAntenna:
		eff.Config.AntennaStowed = false
		eff.Note = "high-gain antenna deployed"
	case model.CmdStowAntenna:
		eff.Config.AntennaStowed = true
		eff.Note = "high-gain antenna stowed"
	case model.CmdBatteryHeater:
		on := cmd.Parameters["state"] == "ON"
		eff.Config.BatteryHeater = on
		eff.Note = fmt.Sprintf("battery heater %s", cmd.Parameters["state"])
	default:
		return eff, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	return eff, nil
}

// ApplyVehicleOverrides rewrites the synthesized frame to reflect commanded
// configuration: a stowed antenna kills the link, SAFE mode degrades
// pointing, the heater warms the battery at the cost of extra load.
func ApplyVehicleOverrides(frame *model.TelemetryFrame, cfg VehicleConfig) {
	at := &frame.Subsystems.Attitude
	at.Mode = cfg.AttitudeMode
	switch cfg.AttitudeMode {
	case "SAFE":
		at.PointingError = model.RangePointingDeg.Clamp(at.PointingError * 20)
	case "SUN_POINTING":
		at.PointingError = model.RangePointingDeg.Clamp(at.PointingError * 3)
		frame.Subsystems.Power.SolarOutputW = model.RangeSolarOutputW.Clamp(frame.Subsystems.Power.SolarOutputW * 1.1)
	}

	if cfg.AntennaStowed {
		cm := &frame.Subsystems.Comms
		cm.AntennaState = "STOWED"
		cm.GroundStationLock = false
		cm.SignalStrengthDBm = model.RangeSignalDBm.Min
		cm.UplinkBps = 0
		cm.DownlinkBps = 0
		cm.PacketLossPct = 100
	}

	if cfg.BatteryHeater {
		pw := &frame.Subsystems.Power
		pw.TemperatureC = model.RangeTempC.Clamp(pw.TemperatureC + 10)
		pw.CurrentA = model.RangeCurrentA.Clamp(pw.CurrentA + 4)
	}
}
