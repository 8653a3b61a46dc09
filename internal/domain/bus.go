package domain

// MessageBus decouples channels that receive messages from the processing loop.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
