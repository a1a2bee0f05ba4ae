package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/20af02/netrelay/p2p"
	"github.com/boltdb/bolt"
)

var ErrNoJournal = errors.New("journal: relay has no entries")

// Journal records every message a node's relays deliver, in BoltDB.
// Layout: bucket(nodeID) / bucket(relay) / seq -> encoded message.
type Journal struct {
	db     *bolt.DB
	nodeID string
	codec  p2p.Codec
}

// NewJournal opens or creates dbFile.
func NewJournal(nodeID, dbFile string, codec p2p.Codec) (*Journal, error) {
	db, err := bolt.Open(dbFile, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if codec == nil {
		codec = p2p.GOBCodec{}
	}
	return &Journal{db: db, nodeID: nodeID, codec: codec}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends msg to the log of relay.
func (j *Journal) Record(relay string, msg p2p.Protocol) error {
	data, err := j.codec.Encode(msg)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		node, err := tx.CreateBucketIfNotExists([]byte(j.nodeID))
		if err != nil {
			return err
		}
		bucket, err := node.CreateBucketIfNotExists([]byte(relay))
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return bucket.Put(key[:], data)
	})
}

func (j *Journal) relayBucket(tx *bolt.Tx, relay string) *bolt.Bucket {
	node := tx.Bucket([]byte(j.nodeID))
	if node == nil {
		return nil
	}
	return node.Bucket([]byte(relay))
}

// List returns the messages recorded for relay, oldest first.
func (j *Journal) List(relay string) ([]p2p.Protocol, error) {
	var msgs []p2p.Protocol
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := j.relayBucket(tx, relay)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var msg p2p.Protocol
			if err := j.codec.Decode(v, &msg); err != nil {
				return err
			}
			msgs = append(msgs, msg)
			return nil
		})
	})
	return msgs, err
}

// Count returns how many messages were recorded for relay.
func (j *Journal) Count(relay string) (int, error) {
	n := 0
	err := j.db.View(func(tx *bolt.Tx) error {
		if bucket := j.relayBucket(tx, relay); bucket != nil {
			n = bucket.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Clear drops the log of relay.
func (j *Journal) Clear(relay string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		node := tx.Bucket([]byte(j.nodeID))
		if node == nil || node.Bucket([]byte(relay)) == nil {
			return ErrNoJournal
		}
		return node.DeleteBucket([]byte(relay))
	})
}
