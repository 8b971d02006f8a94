package codec

// Vec2 is a two-component float vector.
type Vec2 struct{ X, Y float32 }

// Vec3 is a three-component float vector.
type Vec3 struct{ X, Y, Z float32 }

// Vec4 is a four-component float vector, typically a rotation quaternion.
type Vec4 struct{ X, Y, Z, W float32 }
