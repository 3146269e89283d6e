package eventbus

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// Envelope is the wire format of every message on the bus. The type tag is a
// stable string contract independent of any Go type name: services on either
// side agree on the tag, never on each other's internal representations.
//
// Wire shape (bit-compatible across services):
//
//	{"routingKey":"order.placed","typeTag":"order.placed",
//	 "messageId":"...","occurredAt":"...","payload":{...}}
type Envelope struct {
	RoutingKey string
	TypeTag    string
	MessageID  string
	OccurredAt time.Time
	Payload    []byte
}

// NewEnvelope builds an envelope around payload, which is serialized to JSON.
func NewEnvelope(routingKey, typeTag string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal payload")
	}
	return Envelope{
		RoutingKey: routingKey,
		TypeTag:    typeTag,
		MessageID:  uuid.New().String(),
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

// Encode serializes the envelope to its wire form.
func (e Envelope) Encode() []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("routingKey")
	enc.Str(e.RoutingKey)
	enc.FieldStart("typeTag")
	enc.Str(e.TypeTag)
	enc.FieldStart("messageId")
	enc.Str(e.MessageID)
	enc.FieldStart("occurredAt")
	enc.Str(e.OccurredAt.Format(time.RFC3339Nano))
	enc.FieldStart("payload")
	if len(e.Payload) > 0 {
		enc.Raw(e.Payload)
	} else {
		enc.Null()
	}
	enc.ObjEnd()
	return enc.Bytes()
}

// DecodeEnvelope parses an envelope from its wire form. Unknown fields are
// skipped so producers can add fields without breaking older consumers.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "routingKey":
			s, err := d.Str()
			env.RoutingKey = s
			return err
		case "typeTag":
			s, err := d.Str()
			env.TypeTag = s
			return err
		case "messageId":
			s, err := d.Str()
			env.MessageID = s
			return err
		case "occurredAt":
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return errors.Wrap(err, "parse occurredAt")
			}
			env.OccurredAt = t
			return nil
		case "payload":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			env.Payload = append([]byte(nil), raw...)
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.TypeTag == "" {
		return Envelope{}, errors.New("envelope missing typeTag")
	}
	return env, nil
}
