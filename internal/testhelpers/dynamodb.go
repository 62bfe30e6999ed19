package testhelpers

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const dynamoPort = "8000/tcp"

type DynamoDBContainer struct {
	testcontainers.Container
	Endpoint string
}

func CreateDynamoDBContainer(ctx context.Context) (*DynamoDBContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			ExposedPorts: []string{dynamoPort},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			WaitingFor:   wait.ForListeningPort(dynamoPort).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, err
	}

	endpoint, err := container.PortEndpoint(ctx, dynamoPort, "http")
	if err != nil {
		return nil, err
	}

	return &DynamoDBContainer{Container: container, Endpoint: endpoint}, nil
}
