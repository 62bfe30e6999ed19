package memory

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"payment-gateway/internal/storetest"
)

func TestStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		Open:        func() storetest.Store { return NewStore() },
		Concurrency: 32,
	})
}
