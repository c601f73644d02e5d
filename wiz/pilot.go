package wiz

import (
	"fmt"

	"libdb.so/beatglow/internal/led"
)

// Pilot is the light state reported by getPilot.
type Pilot struct {
	MAC     string `json:"mac"`
	RSSI    int    `json:"rssi"`
	Source  string `json:"src"`
	State   bool   `json:"state"`
	SceneID int    `json:"sceneId"`
	R       int    `json:"r"`
	G       int    `json:"g"`
	B       int    `json:"b"`
	C       int    `json:"c"`
	W       int    `json:"w"`
	Temp    int    `json:"temp"`
	Dimming int    `json:"dimming"`
}

// RGB returns the pilot's color channels.
func (p *Pilot) RGB() led.RGBColor {
	return led.RGBColor{uint8(p.R), uint8(p.G), uint8(p.B)}
}

// PilotBuilder accumulates setPilot parameters. The first invalid value is
// remembered and reported by Params.
type PilotBuilder struct {
	params map[string]any
	err    error
}

// NewPilot returns an empty PilotBuilder. An empty builder only switches the
// light on, keeping whatever color and brightness it had.
func NewPilot() *PilotBuilder {
	return &PilotBuilder{params: make(map[string]any)}
}

// RGB sets the light color.
func (p *PilotBuilder) RGB(c led.RGBColor) *PilotBuilder {
	p.params["r"] = int(c.R())
	p.params["g"] = int(c.G())
	p.params["b"] = int(c.B())
	return p
}

// Dimming sets the brightness in percent, 10 to 100.
func (p *PilotBuilder) Dimming(percent int) *PilotBuilder {
	if percent < 10 || percent > 100 {
		p.fail(fmt.Errorf("dimming %d out of range [10, 100]", percent))
		return p
	}
	p.params["dimming"] = percent
	return p
}

// ColorTemp sets a white color temperature in kelvin.
func (p *PilotBuilder) ColorTemp(kelvin int) *PilotBuilder {
	if kelvin < 1000 || kelvin > 10000 {
		p.fail(fmt.Errorf("color temperature %dK out of range [1000, 10000]", kelvin))
		return p
	}
	p.params["temp"] = kelvin
	return p
}

// Scene selects one of the firmware's built-in scenes.
func (p *PilotBuilder) Scene(id int) *PilotBuilder {
	if id < 1 || id > 35 {
		p.fail(fmt.Errorf("scene %d out of range [1, 35]", id))
		return p
	}
	p.params["sceneId"] = id
	return p
}

// Speed sets the animation speed of dynamic scenes in percent, 10 to 200.
func (p *PilotBuilder) Speed(percent int) *PilotBuilder {
	if percent < 10 || percent > 200 {
		p.fail(fmt.Errorf("speed %d out of range [10, 200]", percent))
		return p
	}
	p.params["speed"] = percent
	return p
}

// Params returns a copy of the accumulated parameters.
func (p *PilotBuilder) Params() (map[string]any, error) {
	if p == nil {
		return map[string]any{}, nil
	}
	if p.err != nil {
		return nil, p.err
	}
	params := make(map[string]any, len(p.params))
	for k, v := range p.params {
		params[k] = v
	}
	return params, nil
}

func (p *PilotBuilder) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
