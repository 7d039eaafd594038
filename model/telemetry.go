package model

// GroundTrackPoint is the sub-satellite point of the current orbit position.
type GroundTrackPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OrbitFrame is the positional portion of a telemetry frame.
type OrbitFrame struct {
	Latitude    float64          `json:"latitude"`
	Longitude   float64          `json:"longitude"`
	AltitudeKm  float64          `json:"altitude_km"`
	VelocityKmS float64          `json:"velocity_km_s"`
	GroundTrack GroundTrackPoint `json:"groundTrack"`
}

// PowerFrame covers the electrical power subsystem.
type PowerFrame struct {
	BatterySOC   float64 `json:"batterySoc"` // percent
	SolarOutputW float64 `json:"solarOutputW"`
	BusVoltage   float64 `json:"busVoltage"`
	CurrentA     float64 `json:"currentA"`
	TemperatureC float64 `json:"temperatureC"`
}

// ThermalFrame covers payload and avionics temperatures.
type ThermalFrame struct {
	PayloadTempC  float64 `json:"payloadTemp"`
	AvionicsTempC float64 `json:"avionicsTemp"`
}

// AttitudeFrame covers the attitude determination and control subsystem.
type AttitudeFrame struct {
	Mode          string  `json:"mode"` // e.g. "NADIR", "SUN_POINTING", "SAFE"
	RateError     float64 `json:"rateError"`     // deg/s
	PointingError float64 `json:"pointingError"` // deg
}

// CommsFrame covers the communications subsystem.
type CommsFrame struct {
	SignalStrengthDBm float64 `json:"signalStrength"`
	UplinkBps         float64 `json:"uplinkBps"`
	DownlinkBps       float64 `json:"downlinkBps"`
	PacketLossPct     float64 `json:"packetLossPct"`
	GroundStationLock bool    `json:"groundStationLock"`
	AntennaState      string  `json:"antennaState"` // "DEPLOYED", "STOWED"
}

// SubsystemsFrame groups the per-subsystem telemetry.
type SubsystemsFrame struct {
	Power    PowerFrame    `json:"power"`
	Thermal  ThermalFrame  `json:"thermal"`
	Attitude AttitudeFrame `json:"attitude"`
	Comms    CommsFrame    `json:"comms"`
}

// TelemetryFrame is one propagated snapshot of the vehicle, produced once
// per tick.
type TelemetryFrame struct {
	Orbit      OrbitFrame      `json:"orbit"`
	Subsystems SubsystemsFrame `json:"subsystems"`
}

// FieldRange is the physical range of a numeric telemetry field. Values
// outside the range are clamped before alarm evaluation; the evaluator is
// responsible for raising events on the clamped values, so nothing is
// silently dropped.
type FieldRange struct {
	Min, Max float64
}

// Clamp returns v limited to the range.
func (r FieldRange) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Physical ranges for the numeric telemetry fields.
var (
	RangeLatitude      = FieldRange{Min: -90, Max: 90}
	RangeLongitude     = FieldRange{Min: -180, Max: 180}
	RangeAltitudeKm    = FieldRange{Min: 0, Max: 100000}
	RangeVelocityKmS   = FieldRange{Min: 0, Max: 15}
	RangeBatterySOC    = FieldRange{Min: 0, Max: 100}
	RangeSolarOutputW  = FieldRange{Min: 0, Max: 5000}
	RangeBusVoltage    = FieldRange{Min: 0, Max: 120}
	RangeCurrentA      = FieldRange{Min: -200, Max: 200}
	RangeTempC         = FieldRange{Min: -150, Max: 150}
	RangeSignalDBm     = FieldRange{Min: -160, Max: 0}
	RangeBitrateBps    = FieldRange{Min: 0, Max: 1e9}
	RangePacketLossPct = FieldRange{Min: 0, Max: 100}
	RangePointingDeg   = FieldRange{Min: 0, Max: 180}
	RangeRateDegS      = FieldRange{Min: 0, Max: 30}
)

// Clamp normalises every numeric field of the frame to its physical range.
func (f *TelemetryFrame) Clamp() {
	f.Orbit.Latitude = RangeLatitude.Clamp(f.Orbit.Latitude)
	f.Orbit.Longitude = RangeLongitude.Clamp(f.Orbit.Longitude)
	f.Orbit.AltitudeKm = RangeAltitudeKm.Clamp(f.Orbit.AltitudeKm)
	f.Orbit.VelocityKmS = RangeVelocityKmS.Clamp(f.Orbit.VelocityKmS)
	f.Orbit.GroundTrack.Latitude = RangeLatitude.Clamp(f.Orbit.GroundTrack.Latitude)
	f.Orbit.GroundTrack.Longitude = RangeLongitude.Clamp(f.Orbit.GroundTrack.Longitude)

	p := &f.Subsystems.Power
	p.BatterySOC = RangeBatterySOC.Clamp(p.BatterySOC)
	p.SolarOutputW = RangeSolarOutputW.Clamp(p.SolarOutputW)
	p.BusVoltage = RangeBusVoltage.Clamp(p.BusVoltage)
	p.CurrentA = RangeCurrentA.Clamp(p.CurrentA)
	p.TemperatureC = RangeTempC.Clamp(p.TemperatureC)

	th := &f.Subsystems.Thermal
	th.PayloadTempC = RangeTempC.Clamp(th.PayloadTempC)
	th.AvionicsTempC = RangeTempC.Clamp(th.AvionicsTempC)

	a := &f.Subsystems.Attitude
	a.RateError = RangeRateDegS.Clamp(a.RateError)
	a.PointingError = RangePointingDeg.Clamp(a.PointingError)

	c := &f.Subsystems.Comms
	c.SignalStrengthDBm = RangeSignalDBm.Clamp(c.SignalStrengthDBm)
	c.UplinkBps = RangeBitrateBps.Clamp(c.UplinkBps)
	c.DownlinkBps = RangeBitrateBps.Clamp(c.DownlinkBps)
	c.PacketLossPct = RangePacketLossPct.Clamp(c.PacketLossPct)
}
