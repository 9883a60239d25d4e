package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"meetinggenius/packages/logger"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ConsumerConfig 队列配置
type ConsumerConfig struct {
	Exchange   string // 为空时使用默认 exchange，不做绑定
	RoutingKey string
	Queue      string
	Prefetch   int
}

// Consumer 从队列接收任务提交，与 HTTP 提交走同一个 Dispatcher
type Consumer struct {
	channel    *amqp.Channel
	cfg        ConsumerConfig
	dispatcher *Dispatcher
	validate   *validator.Validate
	log        zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, cfg ConsumerConfig, dispatcher *Dispatcher) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("bind queue: %w", err)
		}
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		channel:    ch,
		cfg:        cfg,
		dispatcher: dispatcher,
		validate:   newValidator(),
		log:        logger.For("consumer").With().Str("queue", cfg.Queue).Logger(),
	}, nil
}

// newValidator 复用 gin 的 binding 标签
func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// Start 阻塞消费直到 ctx 结束或通道关闭
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info().Msg("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn().Msg("amqp channel closed")
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	j, err := decodeJob(c.validate, msg.Body)
	if err != nil {
		c.log.Warn().Err(err).Msg("rejecting malformed job message")
		_ = msg.Nack(false, false)
		return
	}

	err = c.dispatcher.Submit(ctx, j)
	switch {
	case err == nil, errors.Is(err, ErrDuplicateJob):
		if err != nil {
			c.log.Warn().Str("job_id", j.JobID).Msg("duplicate job message dropped")
		}
		_ = msg.Ack(false)
	case errors.Is(err, ErrDispatcherClosed):
		_ = msg.Nack(false, true)
	default:
		c.log.Error().Err(err).Str("job_id", j.JobID).Msg("failed to submit job, requeueing")
		_ = msg.Nack(false, true)
	}
}

// decodeJob 解析并校验消息体
func decodeJob(v *validator.Validate, body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if err := v.Struct(j); err != nil {
		return Job{}, fmt.Errorf("invalid job: %w", err)
	}
	return j, nil
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
