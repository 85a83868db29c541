package config

import "time"

// Duration is a time.Duration written as a Go duration string ("1s",
// "500ms") in every file format.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) fixup(def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
