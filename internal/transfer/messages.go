package transfer

import "mobarena-server/internal/physics"

// Command is a host -> simulation message. Lifecycle payloads are copied
// values; Step carries transferred buffers.
type Command interface {
	command()
}

// Step asks the simulation to advance by Dt seconds (0 = fixed step) and
// return a Frame. Positions and Angles are recycled buffers and may be nil.
type Step struct {
	Seq       uint64
	Dt        float64
	Positions *Buffer
	Angles    *Buffer
}

type AddBody struct {
	Descriptor physics.Descriptor
}

type RemoveBody struct {
	ID physics.BodyID
}

type SetBody struct {
	ID        physics.BodyID
	Transform physics.Transform
}

type UpdateBody struct {
	ID      physics.BodyID
	Partial physics.Partial
}

func (Step) command()       {}
func (AddBody) command()    {}
func (RemoveBody) command() {}
func (SetBody) command()    {}
func (UpdateBody) command() {}

// Frame is the simulation -> host reply to a Step. Positions holds x,y per
// dynamic body and Angles one angle per body, slot i belonging to the i-th
// id of the most recent id list. Bodies is nil when the dynamic set did not
// change since the previous frame, and a non-nil (possibly empty) slice
// when it did.
type Frame struct {
	Seq       uint64
	Positions *Buffer
	Angles    *Buffer
	Bodies    []physics.BodyID
	Err       error
}

// Count returns the number of bodies in the frame.
func (f Frame) Count() int { return f.Angles.Len() }
