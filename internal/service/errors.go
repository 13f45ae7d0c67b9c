package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

func NewErrNodeNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "node")
}

func NewErrObjectNotFound(key string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("object %s not found", key)}
}

type ErrArtifactNotFound struct {
	error
}

func NewErrArtifactNotFound(jobID uuid.UUID, name string) *ErrArtifactNotFound {
	return &ErrArtifactNotFound{fmt.Errorf("job %s has no %s artifact", jobID, name)}
}

type ErrInvalidTransition struct {
	error
}

func NewErrInvalidTransition(from, event string) *ErrInvalidTransition {
	return &ErrInvalidTransition{fmt.Errorf("cannot %s a job in status %q", event, from)}
}

type ErrQueueFull struct {
	error
}

func NewErrQueueFull(depth, max int) *ErrQueueFull {
	return &ErrQueueFull{fmt.Errorf("queue is full: %d jobs pending, limit %d", depth, max)}
}

type ErrNotReady struct {
	error
}

func NewErrNotReady(id uuid.UUID, status string) *ErrNotReady {
	return &ErrNotReady{fmt.Errorf("job %s is %s, result is not ready", id, status)}
}

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(message string) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf("bad request: %s", message)}
}

func NewErrBlocksFileCorrupted(err error) *ErrInvalidInput {
	return NewErrInvalidInput(fmt.Sprintf("the provided blocks file is corrupted: %s", err))
}

func NewErrAnnotationFileCorrupted(err error) *ErrInvalidInput {
	return NewErrInvalidInput(fmt.Sprintf("the provided annotation file is corrupted: %s", err))
}

type ErrStorageUnavailable struct {
	error
}

func NewErrStorageUnavailable(err error) *ErrStorageUnavailable {
	return &ErrStorageUnavailable{fmt.Errorf("object storage unavailable: %s", err)}
}

type ErrBrokerUnavailable struct {
	error
}

func NewErrBrokerUnavailable(err error) *ErrBrokerUnavailable {
	return &ErrBrokerUnavailable{fmt.Errorf("task broker unavailable: %s", err)}
}
