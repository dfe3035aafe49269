package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/aws/aws-sdk-go-v2/service/ecr"

	"dagger.io/dagger"

	"github.com/Sayooj2275/ecotrace"
	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/common/aws/config"
)

const EcrUserName = "AWS"

func main() {
	var args struct {
		EnvTag    string `arg:"env:ENV_TAG,required" help:"deployment environment: dev, qa or prod"`
		AccountId string `arg:"env:AWS_ACCOUNT_ID,required" help:"AWS account hosting the registry"`
		Region    string `arg:"env:AWS_REGION,required" help:"AWS region hosting the registry"`
		Branch    string `arg:"env:BRANCH" help:"git branch to tag the image with"`
		Sha       string `arg:"env:SHA" help:"git commit to tag the image with"`
		ShaTag    string `arg:"env:SHA_TAG" help:"short commit tag"`
	}
	arg.MustParse(&args)

	ctx := context.Background()

	client, err := dagger.Connect(ctx, dagger.WithLogOutput(os.Stdout))
	if err != nil {
		panic(err)
	}
	defer client.Close()

	contextDir := client.Host().Directory(".")
	registry := args.AccountId + ".dkr.ecr." + args.Region + ".amazonaws.com"
	container := contextDir.
		DockerBuild(dagger.DirectoryDockerBuildOpts{
			Platform:  "linux/amd64",
			BuildArgs: []dagger.BuildArg{{Name: ecotrace.Env_EnvTag, Value: args.EnvTag}},
		})
	tags := make([]string, 0, 5)
	for _, tag := range []string{args.EnvTag, args.Branch, args.Sha, args.ShaTag} {
		if len(tag) > 0 {
			tags = append(tags, tag)
		}
	}
	// Only production images get the "latest" tag
	if args.EnvTag == ecotrace.EnvTag_Prod {
		tags = append(tags, "latest")
	}
	if err = pushImage(ctx, client, container, registry, tags); err != nil {
		log.Fatalf("build: failed to push image: %v", err)
	}
}

func pushImage(ctx context.Context, client *dagger.Client, container *dagger.Container, registry string, tags []string) error {
	// Set up registry authentication
	ecrToken := client.SetSecret("EcrAuthToken", getEcrToken(ctx))
	container = container.WithRegistryAuth(registry, EcrUserName, ecrToken)
	for _, tag := range tags {
		if _, err := container.Publish(ctx, fmt.Sprintf("%s/app-%s:%s", registry, common.ServiceName, tag)); err != nil {
			return err
		}
		log.Printf("build: pushed %s", tag)
	}
	return nil
}

func getEcrToken(ctx context.Context) string {
	awsCfg, err := config.AwsConfig(ctx)
	if err != nil {
		log.Fatalf("build: error creating aws cfg: %v", err)
	}
	ecrClient := ecr.NewFromConfig(awsCfg)
	if ecrTokenOut, err := ecrClient.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{}); err != nil {
		log.Fatalf("build: error retrieving ecr auth token: %v", err)
		return ""
	} else if authToken, err := base64.StdEncoding.DecodeString(*ecrTokenOut.AuthorizationData[0].AuthorizationToken); err != nil {
		log.Fatalf("build: error decoding ecr auth token: %v", err)
		return ""
	} else {
		return strings.TrimPrefix(string(authToken), EcrUserName+":")
	}
}
