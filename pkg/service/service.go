package service

import (
	"context"
	"errors"
)

// Service defines a generic service.
type Service interface{}

// RunnableService defines a service that can be run.
type RunnableService interface {
	Service

	Run()
	Stop(ctx context.Context) error
}

// Group is a container for managing a bunch of services.
type Group struct {
	list []Service
}

func (g *Group) Add(services ...Service) { g.list = append(g.list, services...) }

func (g *Group) AddIf(cond bool, services ...Service) *Group {
	if cond {
		g.Add(services...)
	}
	return g
}

// Start starts each runnable service in the group.
func (g *Group) Start() {
	for _, s := range g.list {
		if v, ok := s.(RunnableService); ok {
			v.Run()
		}
	}
}

// Stop terminates a group of services in reverse order.
func (g *Group) Stop(ctx context.Context) error {
	var errs []error
	for i := len(g.list) - 1; i >= 0; i-- {
		if v, ok := g.list[i].(RunnableService); ok {
			if err := v.Stop(ctx); err != nil && err != context.Canceled {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
