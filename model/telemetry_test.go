package model

import "testing"

func TestFieldRange_Clamp(t *testing.T) {
	r := FieldRange{Min: 0, Max: 100}
	cases := []struct{ in, want float64 }{
		{-5, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{250, 100},
	}
	for _, tc := range cases {
		if got := r.Clamp(tc.in); got != tc.want {
			t.Errorf("Clamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTelemetryFrame_Clamp(t *testing.T) {
	f := &TelemetryFrame{}
	f.Orbit.Latitude = 140
	f.Subsystems.Power.BatterySOC = -12
	f.Subsystems.Comms.PacketLossPct = 400
	f.Subsystems.Attitude.PointingError = 999

	f.Clamp()

	if f.Orbit.Latitude != 90 {
		t.Errorf("latitude = %v, want 90", f.Orbit.Latitude)
	}
	if f.Subsystems.Power.BatterySOC != 0 {
		t.Errorf("SOC = %v, want 0", f.Subsystems.Power.BatterySOC)
	}
	if f.Subsystems.Comms.PacketLossPct != 100 {
		t.Errorf("packet loss = %v, want 100", f.Subsystems.Comms.PacketLossPct)
	}
	if f.Subsystems.Attitude.PointingError != 180 {
		t.Errorf("pointing = %v, want 180", f.Subsystems.Attitude.PointingError)
	}
}
