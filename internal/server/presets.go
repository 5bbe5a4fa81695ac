package server

// Preset is one tunable frequency
type Preset struct {
	Frequency float64 `yaml:"freq" json:"freq"` // MHz
	Label     string  `yaml:"label" json:"label"`
	Mode      string  `yaml:"mode" json:"mode"`
}

// Airport groups the ATC frequencies of one aerodrome
type Airport struct {
	Name        string   `yaml:"name" json:"name"`
	ICAO        string   `yaml:"icao" json:"icao"`
	Frequencies []Preset `yaml:"frequencies" json:"frequencies"`
}

// Presets are served read-only by the API; airports are keyed by ICAO code
type Presets struct {
	FM       []Preset           `yaml:"fm" json:"fm"`
	Airports map[string]Airport `yaml:"airports" json:"airports"`
}

// DefaultPresets returns a handful of broadcast stations and the ATC
// frequencies of two airports
func DefaultPresets() Presets {
	return Presets{
		FM: []Preset{
			{Frequency: 89.1, Label: "Cultura FM", Mode: "FM"},
			{Frequency: 91.3, Label: "Band FM", Mode: "FM"},
			{Frequency: 99.5, Label: "Jovem Pan", Mode: "FM"},
			{Frequency: 105.1, Label: "Mix FM", Mode: "FM"},
		},
		Airports: map[string]Airport{
			"SBSJ": {
				Name: "Sao Jose dos Campos",
				ICAO: "SBSJ",
				Frequencies: []Preset{
					{Frequency: 118.500, Label: "Torre (TWR)", Mode: "AM"},
					{Frequency: 119.250, Label: "Aproximacao (APP)", Mode: "AM"},
					{Frequency: 129.050, Label: "Aproximacao (APP) Alt", Mode: "AM"},
					{Frequency: 121.900, Label: "Solo (GND)", Mode: "AM"},
					{Frequency: 127.650, Label: "ATIS", Mode: "AM"},
				},
			},
			"SBGR": {
				Name: "Guarulhos International",
				ICAO: "SBGR",
				Frequencies: []Preset{
					{Frequency: 121.000, Label: "Torre (TWR)", Mode: "AM"},
					{Frequency: 119.100, Label: "Aproximacao (APP)", Mode: "AM"},
					{Frequency: 121.900, Label: "Solo (GND)", Mode: "AM"},
					{Frequency: 127.750, Label: "ATIS", Mode: "AM"},
				},
			},
		},
	}
}
