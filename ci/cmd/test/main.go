package main

import (
	"context"
	"log"
	"os"

	"dagger.io/dagger"
)

func main() {
	ctx := context.Background()

	// Initialize the Dagger client
	client, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stdout))
	if err != nil {
		panic(err)
	}
	defer client.Close()

	// Mount the module root at /src in a golang:1.19 container, leaving out the pipelines themselves
	source := client.Container().
		From("golang:1.19").
		WithDirectory(
			"/src",
			client.Host().Directory("../../../"), dagger.ContainerWithDirectoryOpts{
				Exclude: []string{"ci/", "_examples/"},
			},
		).
		WithWorkdir("/src")

	// Vet first so that a broken build fails fast, then run every package's tests with the race detector since the
	// claim and seal tests are concurrent.
	for _, cmd := range [][]string{
		{"go", "vet", "./..."},
		{"go", "test", "-race", "-count=1", "./..."},
	} {
		source = source.WithExec(cmd)
	}
	out, err := source.Stdout(ctx)
	if err != nil {
		log.Fatalf("test: error running tests [%v]", err)
	}
	log.Printf("test: finished running tests [%s]", out)
}
