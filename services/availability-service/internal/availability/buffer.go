package availability

type LocationType string

const (
	LocationInSalon LocationType = "in_salon"
	LocationAtHome  LocationType = "at_home"
	LocationVirtual LocationType = "virtual"
)

// BufferPolicy decides how many minutes a booking at a given location type
// reserves before and after its service time.
type BufferPolicy interface {
	BufferFor(lt LocationType) (preMinutes, postMinutes int)
}

type defaultBufferPolicy struct{}

// DefaultBufferPolicy adds a 30 minute post-service travel buffer to at-home
// bookings and nothing to anything else.
var DefaultBufferPolicy BufferPolicy = defaultBufferPolicy{}

func (defaultBufferPolicy) BufferFor(lt LocationType) (int, int) {
	if lt == LocationAtHome {
		return 0, 30
	}
	return 0, 0
}

// BufferPolicyFunc adapts a plain function to BufferPolicy.
type BufferPolicyFunc func(lt LocationType) (int, int)

func (f BufferPolicyFunc) BufferFor(lt LocationType) (int, int) {
	return f(lt)
}

// TravelMinutes is the symmetric travel buffer a new proposal at lt carries:
// staff must travel to the client before and back after.
func TravelMinutes(policy BufferPolicy, lt LocationType) int {
	if policy == nil {
		policy = DefaultBufferPolicy
	}
	pre, post := policy.BufferFor(lt)
	if pre > post {
		return pre
	}
	return post
}

func (lt LocationType) Known() bool {
	switch lt {
	case LocationInSalon, LocationAtHome, LocationVirtual:
		return true
	}
	return false
}
