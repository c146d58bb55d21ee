/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package dirmgr

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3MirrorConfig mirrors the teacher's S3Factory fields (storage/persistence-s3.go);
// a journal mirror only ever needs a single object key, never a sharded layout.
type S3MirrorConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Key             string // object key the mark bytes are written to
	ForcePathStyle  bool
}

// S3Mirror implements journal.MirrorSink by overwriting a single S3 object
// with the latest mark bytes on every roll. Adapted from S3Storage's
// lazy-connect ensureOpen pattern in storage/persistence-s3.go.
type S3Mirror struct {
	cfg S3MirrorConfig

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

// NewS3Mirror constructs a mirror; the AWS client is opened lazily on first
// WriteMark so construction never blocks on network/credentials.
func NewS3Mirror(cfg S3MirrorConfig) *S3Mirror {
	return &S3Mirror{cfg: cfg}
}

func (m *S3Mirror) ensureOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return nil
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if m.cfg.Region != "" {
		opts = append(opts, config.WithRegion(m.cfg.Region))
	}
	if m.cfg.AccessKeyID != "" && m.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(m.cfg.AccessKeyID, m.cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("s3mirror: load config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if m.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(m.cfg.Endpoint) })
	}
	if m.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	m.client = s3.NewFromConfig(awsCfg, s3Opts...)
	m.opened = true
	return nil
}

// Name implements journal.MirrorSink.
func (m *S3Mirror) Name() string { return "s3:" + m.cfg.Bucket + "/" + m.cfg.Key }

// WriteMark implements journal.MirrorSink: an atomic object overwrite — S3
// PutObject either lands whole or not at all.
func (m *S3Mirror) WriteMark(b []byte) error {
	if err := m.ensureOpen(); err != nil {
		return err
	}
	_, err := m.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(m.cfg.Key),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return fmt.Errorf("s3mirror: put: %w", err)
	}
	return nil
}
