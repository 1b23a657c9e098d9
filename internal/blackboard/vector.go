package blackboard

// Vec2 is a 2D vector stored by movement intents and overrides.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsZero reports whether both components are zero.
func (v Vec2) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// Vec3 is a 3D vector used by placement offsets.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IsZero reports whether every component is zero.
func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}
