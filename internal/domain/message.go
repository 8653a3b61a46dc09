package domain

import "time"

// InboundMessage is a single text message received from a sender over any channel.
type InboundMessage struct {
	Channel       string // whatsapp | telegram | webhook | cli
	SenderAddress string // opaque sender address (phone number, chat ID)
	Text          string
	ReceivedAt    time.Time
}

// OutboundMessage is a rendered body addressed to one recipient.
type OutboundMessage struct {
	Address string
	Body    string
	Channel string // inbound channel a sender reply answers; empty for recipients
}
