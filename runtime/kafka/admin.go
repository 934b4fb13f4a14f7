/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package kafka

import (
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
)

type Topic struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
	Error             error
}

// Admin reads and creates topics on the cluster.
type Admin interface {
	FetchInfo(topics []string) (map[string]*Topic, error)
	CreateTopics(topics map[string]*Topic) error
	Close()
}

type kafkaAdmin struct {
	client sarama.Client
	broker *sarama.Broker
	logger log.Logger
}

func NewAdmin(bootstrapServers []string, config *sarama.Config, logger log.Logger) (Admin, error) {
	client, err := sarama.NewClient(bootstrapServers, config)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot init admin client`)
	}

	controller, err := client.Controller()
	if err != nil {
		_ = client.Close()
		return nil, errors.WithPrevious(err, `cannot get controller`)
	}

	return &kafkaAdmin{
		client: client,
		broker: controller,
		logger: logger.NewLog(log.Prefixed(`kafka-admin`)),
	}, nil
}

func (a *kafkaAdmin) FetchInfo(topics []string) (map[string]*Topic, error) {
	req := new(sarama.MetadataRequest)
	req.Topics = topics

	res, err := a.broker.GetMetadata(req)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot get metadata`)
	}

	info := make(map[string]*Topic)
	for _, tp := range res.Topics {
		info[tp.Name] = &Topic{
			Name:          tp.Name,
			NumPartitions: int32(len(tp.Partitions)),
		}
		if tp.Err != sarama.ErrNoError {
			info[tp.Name].Error = tp.Err
		}
	}

	return info, nil
}

func (a *kafkaAdmin) CreateTopics(topics map[string]*Topic) error {
	req := new(sarama.CreateTopicsRequest)
	req.Timeout = 30 * time.Second
	req.TopicDetails = map[string]*sarama.TopicDetail{}
	for name, info := range topics {
		req.TopicDetails[name] = &sarama.TopicDetail{
			NumPartitions:     info.NumPartitions,
			ReplicationFactor: info.ReplicationFactor,
		}
	}

	res, err := a.broker.CreateTopics(req)
	if err != nil {
		return errors.WithPrevious(err, `could not create topics`)
	}

	for name, tErr := range res.TopicErrors {
		if tErr.Err == sarama.ErrNoError || tErr.Err == sarama.ErrTopicAlreadyExists {
			continue
		}

		return errors.WithPrevious(tErr.Err, fmt.Sprintf(`could not create topic [%s]`, name))
	}

	a.logger.Info(fmt.Sprintf(`topics created - %+v`, req.TopicDetails))

	return nil
}

func (a *kafkaAdmin) Close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn(fmt.Sprintf(`cannot close admin client : %+v`, err))
	}
}

// prepareTopics checks that the input topics exist and are co-partitioned,
// then creates the missing output topics with the same partition count when
// Topics.Create is set.
func prepareTopics(admin Admin, topics Topics, logger log.Logger) error {
	sources := append([]string{topics.Designated}, topics.Other...)
	info, err := admin.FetchInfo(sources)
	if err != nil {
		return err
	}

	var partitions int32
	for _, name := range sources {
		tp, ok := info[name]
		if !ok || tp.Error != nil {
			return errors.New(fmt.Sprintf(`input topic [%s] is not available`, name))
		}

		if partitions == 0 {
			partitions = tp.NumPartitions
			continue
		}

		if tp.NumPartitions != partitions {
			return errors.New(fmt.Sprintf(`input topic [%s] has %d partitions, expected %d to be co-partitioned with [%s]`,
				name, tp.NumPartitions, partitions, topics.Designated))
		}
	}

	if !topics.Create {
		return nil
	}

	outputs := []string{topics.Output}
	if topics.Failure != `` {
		outputs = append(outputs, topics.Failure)
	}

	info, err = admin.FetchInfo(outputs)
	if err != nil {
		return err
	}

	missing := make(map[string]*Topic)
	for _, name := range outputs {
		if tp, ok := info[name]; ok && tp.Error == nil {
			continue
		}

		missing[name] = &Topic{
			Name:              name,
			NumPartitions:     partitions,
			ReplicationFactor: topics.ReplicationFactor,
		}
	}

	if len(missing) < 1 {
		return nil
	}

	logger.Info(fmt.Sprintf(`creating %d output topics with %d partitions`, len(missing), partitions))

	return admin.CreateTopics(missing)
}
