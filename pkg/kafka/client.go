// Package kafka 提供了训练任务队列的生产者与消费者。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"ragchat-go/internal/config"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/tasks"
)

// TaskProcessor 处理一个训练任务，使消费者与具体的流水线实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.TrainingTask) error
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 把训练任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Dispatch 发送一个训练任务，以记录 id 作为消息 key。
func (p *Producer) Dispatch(ctx context.Context, task tasks.TrainingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.ID), Value: taskBytes})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 从 Kafka 读取训练任务并同步处理。
// 失败次数记录在 Redis 中，达到 MaxAttempts 后提交 offset 放弃该任务。
type Consumer struct {
	reader      *kafka.Reader
	rdb         *redis.Client
	processor   TaskProcessor
	maxAttempts int64
}

// NewConsumer 创建消费者。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) *Consumer {
	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers(cfg),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}),
		rdb:         rdb,
		processor:   processor,
		maxAttempts: maxAttempts,
	}
}

func attemptsKey(id string) string {
	return fmt.Sprintf("kafka:attempts:%s", id)
}

// Run 循环消费直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			time.Sleep(time.Second)
			continue
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.TrainingTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, offset: %d", err, m.Offset)
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	log.Infof("开始处理训练任务: id=%s, kind=%s", task.ID, task.Kind)
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理训练任务失败: id=%s, error: %v", task.ID, err)
		if c.giveUp(ctx, task.ID) {
			log.Errorf("训练任务多次失败(>=%d)，提交 offset 终止重试: id=%s", c.maxAttempts, task.ID)
			c.commit(ctx, m)
		}
		return
	}

	log.Infof("训练任务处理成功: id=%s", task.ID)
	_ = c.rdb.Del(ctx, attemptsKey(task.ID)).Err()
	c.commit(ctx, m)
}

// giveUp 记录一次失败并判断是否应放弃；Redis 异常时保守处理，不放弃。
func (c *Consumer) giveUp(ctx context.Context, id string) bool {
	key := attemptsKey(id)
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts >= c.maxAttempts
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
