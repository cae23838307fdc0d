package repository

import (
	"context"
	"fmt"

	"guptaai/internal/model"

	bolt "go.etcd.io/bbolt"
)

var archiveBucket = []byte("chat_archive")

// boltArchive 把账号归档保存在单个 BoltDB 文件中，适合单机部署。
type boltArchive struct {
	db    *bolt.DB
	limit int
}

// NewBoltArchive 创建基于 BoltDB 的账号归档，并确保 bucket 存在。
func NewBoltArchive(db *bolt.DB, limit int) (ConversationStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(archiveBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive bucket: %w", err)
	}
	return &boltArchive{db: db, limit: limit}, nil
}

func (r *boltArchive) Get(_ context.Context, key string) (model.Conversation, error) {
	var conv model.Conversation
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(archiveBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// v 只在事务内有效，这里直接解码成新的结构体
		decoded, err := model.DecodeConversation(v)
		if err != nil {
			return err
		}
		conv = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *boltArchive) Set(_ context.Context, key string, conv model.Conversation) error {
	data, err := encodeConversation(conv, r.limit)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(archiveBucket).Put([]byte(key), data)
	})
}

func (r *boltArchive) Remove(_ context.Context, key string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(archiveBucket).Delete([]byte(key))
	})
}
