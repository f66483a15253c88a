package cache

import (
	"sync"

	"instantlly/internal/models"
)

type Seq int64

// Conversation keeps the most recent messages of one conversation in a
// fixed-size ring buffer.
type Conversation struct {
	Key        string
	Records    []models.Message
	FirstSeq   Seq
	LastSeq    Seq
	LastIndex  int
	MaxRecords int

	mux sync.RWMutex
}

func newConversation(key string, maxRecords int) *Conversation {
	return &Conversation{
		Key:        key,
		MaxRecords: maxRecords,
		LastIndex:  -1,
		FirstSeq:   -1,
		LastSeq:    -1,
	}
}

// Add appends a message, overwriting the oldest one when the buffer is full.
func (c *Conversation) Add(msg models.Message) Seq {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.LastSeq++

	switch {
	case len(c.Records) < c.MaxRecords:
		if c.FirstSeq == -1 {
			c.FirstSeq = c.LastSeq
		}
		c.Records = append(c.Records, msg)
		c.LastIndex++
	default:
		c.FirstSeq++
		i := (c.LastIndex + 1) % c.MaxRecords
		c.Records[i] = msg
		c.LastIndex = i
	}

	return c.LastSeq
}

// Update applies fn to the newest message matching the predicate.
func (c *Conversation) Update(match func(models.Message) bool, fn func(*models.Message)) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	for n := 0; n < len(c.Records); n++ {
		i := (c.LastIndex - n + len(c.Records)) % len(c.Records)
		if match(c.Records[i]) {
			fn(&c.Records[i])
			return true
		}
	}
	return false
}

// Last returns up to count newest messages in chronological order.
func (c *Conversation) Last(count int) []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.LastSeq == -1 || count <= 0 {
		return []models.Message{}
	}

	total := int(c.LastSeq - c.FirstSeq + 1)
	if count > total {
		count = total
	}

	result := make([]models.Message, count)

	head := 0
	if len(c.Records) == c.MaxRecords {
		head = (c.LastIndex + 1) % c.MaxRecords
	}

	offset := total - count
	startIdx := (head + offset) % len(c.Records)

	if startIdx+count <= len(c.Records) {
		copy(result, c.Records[startIdx:startIdx+count])
	} else {
		n1 := len(c.Records) - startIdx
		copy(result, c.Records[startIdx:])
		copy(result[n1:], c.Records[:count-n1])
	}

	return result
}
