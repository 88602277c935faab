// Package robot provides the actuator that carries out UI commands.
package robot

// MotorName identifies a servo on the robot head.
type MotorName string

// Servos of the head, matching bus IDs 1-4.
const (
	HeadPan      MotorName = "head_pan"
	HeadTilt     MotorName = "head_tilt"
	LeftAntenna  MotorName = "left_antenna"
	RightAntenna MotorName = "right_antenna"
)

// AllMotors returns all motor names in servo ID order.
func AllMotors() []MotorName {
	return []MotorName{
		HeadPan,
		HeadTilt,
		LeftAntenna,
		RightAntenna,
	}
}
