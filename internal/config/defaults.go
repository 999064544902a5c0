package config

import "time"

// Default returns the calibrated parameter set used when no file overrides it.
func Default() *Config {
	return &Config{
		Simulation: Simulation{
			Days:   30,
			Seed:   42,
			Start:  time.Date(2020, time.February, 28, 0, 0, 0, 0, time.UTC),
			Agents: 300,
		},
		Durations: Durations{
			Work:         DurationSpec{Mean: 8, Scale: 1, Max: 12},
			Grocery:      DurationSpec{Mean: 0.75, Scale: 0.1, Max: 4},
			Exercise:     DurationSpec{Mean: 1, Scale: 0.1, Max: 4},
			Socialize:    DurationSpec{Mean: 2, Scale: 0.25, Max: 4},
			Sleep:        DurationSpec{Mean: 8, Scale: 0.5, Max: 10},
			Awake:        DurationSpec{Mean: 16, Scale: 0.5, Max: 20},
			InitialSleep: 8,
		},
		Hours: Hours{
			Store:     Window{Open: ClockTime{Hour: 8}, Close: ClockTime{Hour: 20}},
			Misc:      Window{Open: ClockTime{Hour: 10}, Close: ClockTime{Hour: 23}},
			Park:      Window{Open: ClockTime{Hour: 6}, Close: ClockTime{Hour: 21, Minute: 30}},
			Workplace: Window{Open: ClockTime{Hour: 7}, Close: ClockTime{Hour: 20}},
			School:    Window{Open: ClockTime{Hour: 8}, Close: ClockTime{Hour: 16}},
		},
		Frequency: Frequency{
			Grocery:   []DayWeight{{Days: 1, Weight: 0.1}, {Days: 3, Weight: 0.3}, {Days: 5, Weight: 0.3}, {Days: 7, Weight: 0.3}},
			Exercise:  []DayWeight{{Days: 1, Weight: 0.4}, {Days: 2, Weight: 0.3}, {Days: 4, Weight: 0.3}},
			Socialize: []DayWeight{{Days: 1, Weight: 0.2}, {Days: 2, Weight: 0.3}, {Days: 4, Weight: 0.3}, {Days: 7, Weight: 0.2}},
		},
		Health: Health{
			HospitalizedGivenSymptoms: ageBins(0.001, 0.003, 0.012, 0.032, 0.049, 0.102, 0.166, 0.243, 0.273),
			CriticalGivenHospitalized: ageBins(0.05, 0.05, 0.05, 0.05, 0.063, 0.122, 0.274, 0.432, 0.709),
			FatalityGivenCritical:     ageBins(0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.4, 0.5, 0.6),

			DaysToHospital:           5,
			DaysToCritical:           2,
			DaysToDeath:              3,
			DaysRecoveryHospitalized: 8,
			DaysRecoveryCritical:     14,

			HospitalCapacity: 20,
			ICUCapacity:      4,
		},
		Mobility: Mobility{
			GivenQuarantined:  0.1,
			GivenPositiveTest: 0.1,
			GivenSevere:       0.0,
			GivenModerate:     0.3,
			GivenMild:         0.7,
			ExploreRho:        0.6,
			ExploreGamma:      0.21,
		},
		Social: Social{
			InvitationAcceptance: 0.5,
			MinContactMinutes:    15,
			HouseOverMisc:        0.5,
			Connections:          5,
		},
		Supervision: Supervision{
			MaxChildAge: 12,
		},
		Town: Town{
			Radius:     10,
			Stores:     6,
			Parks:      3,
			Miscs:      8,
			Workplaces: 12,
			Schools:    2,
			Hospitals:  2,
		},
		Logging: Logging{Level: "info"},
	}
}

// ageBins spreads nine probabilities over the decades 0-9 through 80+.
func ageBins(p ...float64) []AgeBin {
	bins := make([]AgeBin, len(p))
	for i, v := range p {
		bins[i] = AgeBin{Min: i * 10, Max: i*10 + 9, P: v}
	}
	bins[len(bins)-1].Max = 120
	return bins
}
