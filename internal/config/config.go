// Package config holds the simulation parameters: activity durations,
// opening hours, activity frequencies, health progression, mobility
// reduction, invitation and supervision settings, and the town layout.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full parameter set. All durations are in hours unless the
// field name says otherwise.
type Config struct {
	Simulation  Simulation  `yaml:"simulation" json:"simulation"`
	Durations   Durations   `yaml:"durations" json:"durations"`
	Hours       Hours       `yaml:"hours" json:"hours"`
	Frequency   Frequency   `yaml:"frequency" json:"frequency"`
	Health      Health      `yaml:"health" json:"health"`
	Mobility    Mobility    `yaml:"mobility" json:"mobility"`
	Social      Social      `yaml:"social" json:"social"`
	Supervision Supervision `yaml:"supervision" json:"supervision"`
	Town        Town        `yaml:"town" json:"town"`
	Logging     Logging     `yaml:"logging" json:"logging"`
}

// Simulation controls the horizon and seeding.
type Simulation struct {
	Days    int       `yaml:"days" json:"days"`
	Seed    int64     `yaml:"seed" json:"seed"`
	Start   time.Time `yaml:"start" json:"start"`
	Agents  int       `yaml:"agents" json:"agents"`
	Workers int       `yaml:"workers" json:"workers"` // 0 = GOMAXPROCS
}

// DurationSpec parameterizes a gamma distribution with the given mean and
// scale, capped at Max.
type DurationSpec struct {
	Mean  float64 `yaml:"mean" json:"mean"`
	Scale float64 `yaml:"scale" json:"scale"`
	Max   float64 `yaml:"max" json:"max"`
}

// Durations lists the distribution of every sampled activity length.
type Durations struct {
	Work      DurationSpec `yaml:"work" json:"work"`
	Grocery   DurationSpec `yaml:"grocery" json:"grocery"`
	Exercise  DurationSpec `yaml:"exercise" json:"exercise"`
	Socialize DurationSpec `yaml:"socialize" json:"socialize"`
	Sleep     DurationSpec `yaml:"sleep" json:"sleep"`
	Awake     DurationSpec `yaml:"awake" json:"awake"`

	// InitialSleep is how long everyone sleeps at the start of the run.
	InitialSleep float64 `yaml:"initial_sleep" json:"initial_sleep"`
}

// ClockTime is an hour and minute of the day.
type ClockTime struct {
	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`
}

// Offset returns the time since midnight.
func (c ClockTime) Offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

// Window is a daily opening window. A window from 00:00 to 24:00 is open
// all day.
type Window struct {
	Open  ClockTime `yaml:"open" json:"open"`
	Close ClockTime `yaml:"close" json:"close"`
}

// Bounds returns the opening and closing offsets from midnight.
func (w Window) Bounds() (open, close time.Duration) {
	return w.Open.Offset(), w.Close.Offset()
}

// AllDay is the window of households and hospitals.
var AllDay = Window{Close: ClockTime{Hour: 24}}

// Hours holds the typical opening windows per location class.
type Hours struct {
	Store     Window `yaml:"store" json:"store"`
	Misc      Window `yaml:"misc" json:"misc"`
	Park      Window `yaml:"park" json:"park"`
	Workplace Window `yaml:"workplace" json:"workplace"`
	School    Window `yaml:"school" json:"school"`
}

// DayWeight is one entry of a "days until next occurrence" distribution.
type DayWeight struct {
	Days   int     `yaml:"days" json:"days"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Frequency holds the day-gap distributions of optional activities.
type Frequency struct {
	Grocery   []DayWeight `yaml:"grocery" json:"grocery"`
	Exercise  []DayWeight `yaml:"exercise" json:"exercise"`
	Socialize []DayWeight `yaml:"socialize" json:"socialize"`
}

// AgeBin is a probability that applies to ages in [Min, Max].
type AgeBin struct {
	Min int     `yaml:"min" json:"min"`
	Max int     `yaml:"max" json:"max"`
	P   float64 `yaml:"p" json:"p"`
}

// Health drives hospitalization, critical care and death.
type Health struct {
	HospitalizedGivenSymptoms []AgeBin `yaml:"hospitalized_given_symptoms" json:"hospitalized_given_symptoms"`
	CriticalGivenHospitalized []AgeBin `yaml:"critical_given_hospitalized" json:"critical_given_hospitalized"`
	FatalityGivenCritical     []AgeBin `yaml:"fatality_given_critical" json:"fatality_given_critical"`

	DaysToHospital           float64 `yaml:"days_to_hospital" json:"days_to_hospital"`
	DaysToCritical           float64 `yaml:"days_to_critical" json:"days_to_critical"`
	DaysToDeath              float64 `yaml:"days_to_death" json:"days_to_death"`
	DaysRecoveryHospitalized float64 `yaml:"days_recovery_hospitalized" json:"days_recovery_hospitalized"`
	DaysRecoveryCritical     float64 `yaml:"days_recovery_critical" json:"days_recovery_critical"`

	HospitalCapacity int `yaml:"hospital_capacity" json:"hospital_capacity"`
	ICUCapacity      int `yaml:"icu_capacity" json:"icu_capacity"`
}

// Mobility holds the probability of leaving home in each health condition
// and the explore/return parameters of location choice.
type Mobility struct {
	GivenQuarantined  float64 `yaml:"given_quarantined" json:"given_quarantined"`
	GivenPositiveTest float64 `yaml:"given_positive_test" json:"given_positive_test"`
	GivenSevere       float64 `yaml:"given_severe" json:"given_severe"`
	GivenModerate     float64 `yaml:"given_moderate" json:"given_moderate"`
	GivenMild         float64 `yaml:"given_mild" json:"given_mild"`

	ExploreRho   float64 `yaml:"explore_rho" json:"explore_rho"`
	ExploreGamma float64 `yaml:"explore_gamma" json:"explore_gamma"`
}

// Social configures invitations.
type Social struct {
	InvitationAcceptance float64 `yaml:"invitation_acceptance" json:"invitation_acceptance"`
	MinContactMinutes    float64 `yaml:"min_contact_minutes" json:"min_contact_minutes"`
	HouseOverMisc        float64 `yaml:"house_over_misc" json:"house_over_misc"`
	Connections          int     `yaml:"connections" json:"connections"`
}

// MinContact returns the shortest gathering worth coordinating.
func (s Social) MinContact() time.Duration {
	return time.Duration(s.MinContactMinutes * float64(time.Minute))
}

// Supervision configures which agents follow an adult.
type Supervision struct {
	MaxChildAge int `yaml:"max_child_age" json:"max_child_age"`
}

// Town controls generated locations.
type Town struct {
	Radius     int `yaml:"radius" json:"radius"`
	Households int `yaml:"households" json:"households"`
	Stores     int `yaml:"stores" json:"stores"`
	Parks      int `yaml:"parks" json:"parks"`
	Miscs      int `yaml:"miscs" json:"miscs"`
	Workplaces int `yaml:"workplaces" json:"workplaces"`
	Schools    int `yaml:"schools" json:"schools"`
	Hospitals  int `yaml:"hospitals" json:"hospitals"`
}

// Logging selects the slog level.
type Logging struct {
	Level string `yaml:"level" json:"level"`
}

// Probability returns the probability of the bin containing age, or 0.
func Probability(bins []AgeBin, age int) float64 {
	for _, b := range bins {
		if age >= b.Min && age <= b.Max {
			return b.P
		}
	}
	return 0
}

// Load reads, validates and decodes a YAML file over the defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates raw YAML against the schema and decodes it over the
// defaults, so a file only needs the keys it overrides.
func Parse(raw []byte) (*Config, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}
