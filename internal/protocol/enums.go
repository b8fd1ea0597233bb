package protocol

import (
	"fmt"
	"sort"
)

// AppMode selects what the device does with its radio.
type AppMode int

const (
	AppModeSim AppMode = iota
	AppModePest
	AppModeExternal
)

func (m AppMode) String() string {
	switch m {
	case AppModeSim:
		return "sim"
	case AppModePest:
		return "pest"
	case AppModeExternal:
		return "external"
	default:
		return fmt.Sprintf("app_mode(%d)", int(m))
	}
}

// FlyMode pauses or runs the simulated aircraft.
type FlyMode int

const (
	FlyModePause FlyMode = iota
	FlyModeFly
)

func (m FlyMode) String() string {
	switch m {
	case FlyModePause:
		return "pause"
	case FlyModeFly:
		return "fly"
	default:
		return fmt.Sprintf("fly_mode(%d)", int(m))
	}
}

// PathMode selects how the simulated aircraft moves while flying.
type PathMode int

const (
	PathModeHold PathMode = iota
	PathModeRandom
	PathModeFollow
)

func (m PathMode) String() string {
	switch m {
	case PathModeHold:
		return "hold"
	case PathModeRandom:
		return "random"
	case PathModeFollow:
		return "follow"
	default:
		return fmt.Sprintf("path_mode(%d)", int(m))
	}
}

// IDType is the Open Drone ID basic-ID type.
type IDType int

const (
	IDTypeNone IDType = iota
	IDTypeSerialNumber
	IDTypeCAARegistrationID
	IDTypeAssignedUUID
	IDTypeSpecificSessionID
)

var idTypeNames = map[IDType]string{
	IDTypeNone:              "NONE",
	IDTypeSerialNumber:      "SERIAL_NUMBER",
	IDTypeCAARegistrationID: "CAA_REGISTRATION_ID",
	IDTypeAssignedUUID:      "ID_ASSIGNED_UUID",
	IDTypeSpecificSessionID: "SPECIFIC_SESSION_ID",
}

func (t IDType) String() string {
	if s, ok := idTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("IDTYPE(%d)", int(t))
}

// UAType is the Open Drone ID aircraft category.
type UAType int

const (
	UATypeNone UAType = iota
	UATypeAeroplane
	UATypeHelicopterOrMultirotor
	UATypeGyroplane
	UATypeHybridLift
	UATypeOrnithopter
	UATypeGlider
	UATypeKite
	UATypeFreeBalloon
	UATypeCaptiveBalloon
	UATypeAirship
	UATypeFreeFallParachute
	UATypeRocket
	UATypeTetheredPoweredAircraft
	UATypeGroundObstacle
	UATypeOther
)

var uaTypeNames = map[UAType]string{
	UATypeNone:                    "NONE",
	UATypeAeroplane:               "AEROPLANE",
	UATypeHelicopterOrMultirotor:  "HELICOPTER_OR_MULTIROTOR",
	UATypeGyroplane:               "GYROPLANE",
	UATypeHybridLift:              "HYBRID_LIFT",
	UATypeOrnithopter:             "ORNITHOPTER",
	UATypeGlider:                  "GLIDER",
	UATypeKite:                    "KITE",
	UATypeFreeBalloon:             "FREE_BALLOON",
	UATypeCaptiveBalloon:          "CAPTIVE_BALLOON",
	UATypeAirship:                 "AIRSHIP",
	UATypeFreeFallParachute:       "FREE_FALL_PARACHUTE",
	UATypeRocket:                  "ROCKET",
	UATypeTetheredPoweredAircraft: "TETHERED_POWERED_AIRCRAFT",
	UATypeGroundObstacle:          "GROUND_OBSTACLE",
	UATypeOther:                   "OTHER",
}

func (t UAType) String() string {
	if s, ok := uaTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UATYPE(%d)", int(t))
}

// EnumOption is a value/label pair for UI dropdowns.
type EnumOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

func IDTypeOptions() []EnumOption { return options(idTypeNames) }
func UATypeOptions() []EnumOption { return options(uaTypeNames) }

func options[K ~int](names map[K]string) []EnumOption {
	out := make([]EnumOption, 0, len(names))
	for k, v := range names {
		out = append(out, EnumOption{Value: int(k), Label: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// Pest mode search radius steps, in meters, selectable from the console.
var RadiusSteps = []int{500, 1000, 2000, 3000, 5000, 10000}

const MinRadiusM = 500

// RadiusForStep maps a 1-based step to a radius. Out-of-range steps fall back
// to MinRadiusM.
func RadiusForStep(step int) int {
	if step < 1 || step > len(RadiusSteps) {
		return MinRadiusM
	}
	return RadiusSteps[step-1]
}

// SpawnSteps are the pest-mode spawn intervals, in seconds.
var SpawnSteps = []int{5, 10, 20, 30, 45}

const DefaultSpawnSec = 5
