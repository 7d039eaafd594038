package core

import (
	"fmt"
	"math"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/mission-runtime/model"
)

// Propagator produces a telemetry frame for a satellite snapshot at a given
// mission elapsed time. Implementations must be deterministic: the same
// (snapshot, elapsed, difficulty) triple always yields the same frame.
type Propagator interface {
	Propagate(sat model.SatelliteSnapshot, elapsed time.Duration, difficulty model.Difficulty) (*model.TelemetryFrame, error)
}

// GroundStation is the reference station used for comms link synthesis.
// Position is ECEF kilometres.
type GroundStation struct {
	Name     string
	Position Vec3
}

// DefaultGroundStation sits roughly at the equator on the prime meridian.
var DefaultGroundStation = GroundStation{
	Name:     "EQUATOR-GS",
	Position: Vec3{X: EarthRadiusKm, Y: 0, Z: 0},
}

// SGP4Propagator propagates orbits with SGP4 from the frozen TLE and
// synthesizes subsystem telemetry from the resulting geometry (eclipse state
// drives power and thermal, slant range drives the comms link).
type SGP4Propagator struct {
	// MissionStart anchors elapsed time to an absolute epoch for SGP4.
	MissionStart time.Time
	// Station is the ground station used for link geometry.
	Station GroundStation

	mu   sync.Mutex
	sats map[string]satellite.Satellite // keyed by satellite snapshot id
}

// NewSGP4Propagator builds a propagator anchored at the given mission start.
func NewSGP4Propagator(missionStart time.Time) *SGP4Propagator {
	return &SGP4Propagator{
		MissionStart: missionStart,
		Station:      DefaultGroundStation,
		sats:         make(map[string]satellite.Satellite),
	}
}

func (p *SGP4Propagator) satFor(snap model.SatelliteSnapshot) (satellite.Satellite, error) {
	if len(snap.TLE1) < 60 || len(snap.TLE2) < 60 {
		return satellite.Satellite{}, fmt.Errorf("satellite %q has no usable TLE", snap.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sats[snap.ID]; ok {
		return s, nil
	}
	s := satellite.TLEToSat(snap.TLE1, snap.TLE2, satellite.GravityWGS72)
	p.sats[snap.ID] = s
	return s, nil
}

// Propagate implements Propagator.
func (p *SGP4Propagator) Propagate(snap model.SatelliteSnapshot, elapsed time.Duration, difficulty model.Difficulty) (*model.TelemetryFrame, error) {
	sat, err := p.satFor(snap)
	if err != nil {
		return nil, err
	}

	simTime := p.MissionStart.Add(elapsed).UTC()
	year, month, day := simTime.Date()
	hour, min, sec := simTime.Clock()

	posECI, velECI := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)

	altKm, _, llRad := satellite.ECIToLLA(posECI, gmst)
	if math.IsNaN(altKm) || math.IsNaN(llRad.Latitude) {
		return nil, fmt.Errorf("sgp4 produced non-finite state for satellite %q at t=%s", snap.ID, elapsed)
	}

	const radToDeg = 180 / math.Pi
	lat := llRad.Latitude * radToDeg
	lon := normalizeLongitude(llRad.Longitude * radToDeg)

	velKmS := Vec3{X: velECI.X, Y: velECI.Y, Z: velECI.Z}.Norm()

	posECEF := satellite.ECIToECEF(posECI, gmst)
	satECEF := Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
	satECI := Vec3{X: posECI.X, Y: posECI.Y, Z: posECI.Z}

	frame := &model.TelemetryFrame{
		Orbit: model.OrbitFrame{
			Latitude:    lat,
			Longitude:   lon,
			AltitudeKm:  altKm,
			VelocityKmS: velKmS,
			GroundTrack: model.GroundTrackPoint{Latitude: lat, Longitude: lon},
		},
	}

	doy := float64(simTime.YearDay()) + float64(simTime.Hour())/24
	sunlit := !InEclipse(satECI, SunDirectionECI(doy))
	t := elapsed.Seconds()
	factor := difficulty.Factor()

	synthesizePower(&frame.Subsystems.Power, sunlit, t, factor)
	synthesizeThermal(&frame.Subsystems.Thermal, sunlit, t, factor)
	synthesizeAttitude(&frame.Subsystems.Attitude, t, factor)
	synthesizeComms(&frame.Subsystems.Comms, satECEF, p.Station, t, factor)

	frame.Clamp()
	return frame, nil
}

// orbitPeriodS approximates a LEO orbital period for the slow periodic terms
// of the synthesized subsystems.
const orbitPeriodS = 5400.0

func synthesizePower(pw *model.PowerFrame, sunlit bool, t, factor float64) {
	phase := 2 * math.Pi * t / orbitPeriodS
	if sunlit {
		pw.SolarOutputW = 1800 + 120*math.Sin(phase)
		pw.BatterySOC = 88 - 4*factor*math.Abs(math.Sin(phase/2))
	} else {
		pw.SolarOutputW = 0
		// Eclipse drains the battery; harder scenarios drain deeper.
		pw.BatterySOC = 78 - 9*factor*math.Abs(math.Sin(phase/2))
	}
	pw.BusVoltage = 28.2 - 0.4*(100-pw.BatterySOC)/100*factor
	pw.CurrentA = 12 + 3*math.Sin(phase*3)
	pw.TemperatureC = 18 + boolTerm(sunlit, 8, -6) + 2*math.Sin(phase)
}

func synthesizeThermal(th *model.ThermalFrame, sunlit bool, t, factor float64) {
	phase := 2 * math.Pi * t / orbitPeriodS
	th.PayloadTempC = 21 + boolTerm(sunlit, 14, -18) + 4*factor*math.Sin(phase)
	th.AvionicsTempC = 32 + boolTerm(sunlit, 6, -4) + 2*factor*math.Sin(phase+1)
}

func synthesizeAttitude(at *model.AttitudeFrame, t, factor float64) {
	phase := 2 * math.Pi * t / 600
	at.Mode = "NADIR"
	at.RateError = 0.01 * factor * (1 + 0.5*math.Abs(math.Sin(phase)))
	at.PointingError = 0.05 * factor * (1 + math.Abs(math.Sin(phase/3)))
}

func synthesizeComms(cm *model.CommsFrame, satECEF Vec3, gs GroundStation, t, factor float64) {
	cm.AntennaState = "DEPLOYED"

	rangeKm := SlantRangeKm(satECEF, gs.Position)
	visible := LineOfSight(satECEF, gs.Position) && rangeKm < 3000

	cm.GroundStationLock = visible
	if visible {
		// Free-space-path-loss shaped curve; closer passes are louder.
		cm.SignalStrengthDBm = -50 - 20*math.Log10(math.Max(rangeKm, 1)/100)
		cm.UplinkBps = 256e3
		cm.DownlinkBps = 2e6
		cm.PacketLossPct = 0.2 * factor * rangeKm / 3000
	} else {
		cm.SignalStrengthDBm = -140
		cm.UplinkBps = 0
		cm.DownlinkBps = 0
		cm.PacketLossPct = 100
	}
}

func boolTerm(b bool, ifTrue, ifFalse float64) float64 {
	if b {
		return ifTrue
	}
	return ifFalse
}

func normalizeLongitude(deg float64) float64 {
	for deg > 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return deg
}
