package pubsub

// NewFilteredSender wraps s so that only messages accepted by f are forwarded. Closing either side closes both.
func NewFilteredSender[T any](s SenderCloser[T], f func(T) bool) SenderCloser[T] {
	return &filteredSender[T]{
		SenderCloser: s,
		filter:       f,
	}
}

type filteredSender[T any] struct {
	SenderCloser[T]
	filter func(T) bool
}

func (s *filteredSender[T]) Send(msg T) bool {
	select {
	case <-s.Closed():
		return false
	default:
		if s.filter == nil || s.filter(msg) {
			return s.SenderCloser.Send(msg)
		}
		// "true" because channel is not closed, it "accepted" the message, it just dropped it
		return true
	}
}

// NewFilteredSubscriber is a convenience for subscribing to p with a filter, returning the receiving end.
func NewFilteredSubscriber[T any](p Publisher[T], bufSize int, f func(T) bool) (ReceiverCloser[T], error) {
	ch := NewChannel[T](bufSize)
	if err := p.AddSubscriber(NewFilteredSender[T](ch, f)); err != nil {
		return nil, err
	}
	return ch, nil
}
