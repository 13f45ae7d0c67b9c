package queue

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrEmpty = errors.New("queue is empty")

const (
	statePending = "pending"
	stateLeased  = "leased"
)

type queueMessage struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Topic          string `gorm:"index:queue_messages_topic_state,priority:1;not null"`
	State          string `gorm:"index:queue_messages_topic_state,priority:2;not null"`
	Payload        []byte
	Attempts       int
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GormBroker stores messages in the relational database shared with the rest
// of the system. Delivery uses a compare-and-swap on the state column so
// concurrent consumers never lease the same message.
type GormBroker struct {
	db *gorm.DB
}

// Make sure we conform to Broker interface
var _ Broker = (*GormBroker)(nil)

func NewGormBroker(db *gorm.DB) *GormBroker {
	return &GormBroker{db: db}
}

func (b *GormBroker) InitialMigration(ctx context.Context) error {
	return b.db.WithContext(ctx).AutoMigrate(&queueMessage{})
}

func (b *GormBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := queueMessage{
		Topic:   topic,
		State:   statePending,
		Payload: payload,
	}
	return b.db.WithContext(ctx).Create(&msg).Error
}

func (b *GormBroker) Receive(ctx context.Context, topic string, leaseFor time.Duration) (*Message, error) {
	db := b.db.WithContext(ctx)

	for attempt := 0; attempt < 3; attempt++ {
		var candidate queueMessage
		err := db.Where("topic = ? AND state = ?", topic, statePending).
			Order("id").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrEmpty
			}
			return nil, err
		}

		expires := time.Now().UTC().Add(leaseFor)
		result := db.Model(&queueMessage{}).
			Where("id = ? AND state = ?", candidate.ID, statePending).
			Updates(map[string]interface{}{
				"state":            stateLeased,
				"lease_expires_at": expires,
				"attempts":         candidate.Attempts + 1,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			// another consumer took it, try the next one
			continue
		}

		return &Message{
			ID:       candidate.ID,
			Topic:    candidate.Topic,
			Payload:  candidate.Payload,
			Attempts: candidate.Attempts + 1,
		}, nil
	}

	return nil, ErrEmpty
}

func (b *GormBroker) Ack(ctx context.Context, id uint) error {
	return b.db.WithContext(ctx).Unscoped().Delete(&queueMessage{}, id).Error
}

func (b *GormBroker) Nack(ctx context.Context, id uint) error {
	return b.db.WithContext(ctx).Model(&queueMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":            statePending,
			"lease_expires_at": nil,
		}).Error
}

func (b *GormBroker) HasMessage(ctx context.Context, topic string, payload []byte) (bool, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&queueMessage{}).
		Where("topic = ? AND payload = ?", topic, payload).
		Count(&count).Error
	return count > 0, err
}

func (b *GormBroker) ReleaseExpired(ctx context.Context, topic string) (int64, error) {
	result := b.db.WithContext(ctx).Model(&queueMessage{}).
		Where("topic = ? AND state = ? AND lease_expires_at < ?", topic, stateLeased, time.Now().UTC()).
		Updates(map[string]interface{}{
			"state":            statePending,
			"lease_expires_at": nil,
		})
	return result.RowsAffected, result.Error
}
