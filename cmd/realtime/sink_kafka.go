package main

import (
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"sutext.github.io/realtime/envelope"
	"sutext.github.io/realtime/xlog"
)

// kafkaSink archives relayed envelopes to a Kafka topic, keyed by channel so
// one channel keeps its order within a partition.
type kafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *xlog.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

func newKafkaSink(conf kafkaConfig) (*kafkaSink, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	kafkaConfig.Producer.Return.Errors = true
	producer, err := sarama.NewAsyncProducer(conf.Brokers, kafkaConfig)
	if err != nil {
		return nil, err
	}
	return startKafkaSink(producer, conf.Topic), nil
}

func startKafkaSink(producer sarama.AsyncProducer, topic string) *kafkaSink {
	s := &kafkaSink{
		producer: producer,
		topic:    topic,
		logger:   xlog.Default().With(xlog.Str("sink", "kafka")),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *kafkaSink) drain() {
	defer s.wg.Done()
	for err := range s.producer.Errors() {
		s.logger.Error("Failed to send message to Kafka",
			xlog.Err(err.Err),
			xlog.Str("topic", s.topic),
		)
	}
}

// Handle is a hub.MessageHandler. It never vetoes delivery.
func (s *kafkaSink) Handle(id string, env envelope.Envelope) bool {
	value, err := envelope.Encode(env)
	if err != nil {
		s.logger.Warn("archive encode", xlog.Err(err))
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	s.producer.Input() <- &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(env.Channel),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("fromClient"), Value: []byte(id)},
			{Key: []byte("type"), Value: []byte(env.Type)},
			{Key: []byte("timestamp"), Value: []byte(strconv.FormatInt(env.Timestamp, 10))},
		},
	}
	return true
}

// Close flushes buffered messages and stops the producer.
func (s *kafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.producer.AsyncClose()
	s.wg.Wait()
	return nil
}
