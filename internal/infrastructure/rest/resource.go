package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Query selects a page of a collection. Filters use the remote criteria
// syntax, e.g. "status.contains" or "cupomEnviado.equals".
type Query struct {
	Page    int
	Size    int
	Sort    []string
	Filters url.Values
}

func (q Query) Values() url.Values {
	v := url.Values{}
	for key, values := range q.Filters {
		for _, value := range values {
			v.Add(key, value)
		}
	}
	if q.Size > 0 {
		v.Set("page", strconv.Itoa(q.Page))
		v.Set("size", strconv.Itoa(q.Size))
	}
	for _, s := range q.Sort {
		v.Add("sort", s)
	}
	return v
}

// Resource is the CRUD capability the remote API offers for one entity.
type Resource[T any] interface {
	Fetch(ctx context.Context, q Query) ([]T, error)
	Count(ctx context.Context, q Query) (int, error)
	Create(ctx context.Context, v T) (T, error)
	Update(ctx context.Context, id int64, v T) (T, error)
	Delete(ctx context.Context, id int64) error
	FindByID(ctx context.Context, id int64) (T, error)
}

// Endpoint implements Resource over a collection path such as "/cortesias".
type Endpoint[T any] struct {
	client *Client
	path   string
}

func NewEndpoint[T any](client *Client, path string) *Endpoint[T] {
	return &Endpoint[T]{client: client, path: path}
}

func (e *Endpoint[T]) Fetch(ctx context.Context, q Query) ([]T, error) {
	var out []T
	if err := e.client.Do(ctx, http.MethodGet, e.path, q.Values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Endpoint[T]) Count(ctx context.Context, q Query) (int, error) {
	filters := Query{Filters: q.Filters}
	var n int
	if err := e.client.Do(ctx, http.MethodGet, e.path+"/count", filters.Values(), nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *Endpoint[T]) Create(ctx context.Context, v T) (T, error) {
	var out T
	err := e.client.Do(ctx, http.MethodPost, e.path, nil, v, &out)
	return out, err
}

func (e *Endpoint[T]) Update(ctx context.Context, id int64, v T) (T, error) {
	var out T
	err := e.client.Do(ctx, http.MethodPut, e.item(id), nil, v, &out)
	return out, err
}

func (e *Endpoint[T]) Delete(ctx context.Context, id int64) error {
	return e.client.Do(ctx, http.MethodDelete, e.item(id), nil, nil, nil)
}

func (e *Endpoint[T]) FindByID(ctx context.Context, id int64) (T, error) {
	var out T
	err := e.client.Do(ctx, http.MethodGet, e.item(id), nil, nil, &out)
	return out, err
}

func (e *Endpoint[T]) item(id int64) string {
	return fmt.Sprintf("%s/%d", e.path, id)
}
