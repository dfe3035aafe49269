package ddb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/Sayooj2275/ecotrace"
	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

const statusIndex = "stat-cat-index"

var _ models.RequestRepository = &RequestDatabase{}
var _ models.ProfileRepository = &RequestDatabase{}

type RequestDatabase struct {
	client       *dynamodb.Client
	logger       models.Logger
	requestTable string
	codeTable    string
	profileTable string
}

type requestItem struct {
	Id          string   `dynamodbav:"id"`
	Requester   string   `dynamodbav:"rqr"`
	Assignee    *string  `dynamodbav:"asg,omitempty"`
	Status      string   `dynamodbav:"stat"`
	Category    string   `dynamodbav:"cat"`
	Estimated   float64  `dynamodbav:"est"`
	Collected   *float64 `dynamodbav:"cwt,omitempty"`
	Description string   `dynamodbav:"dsc,omitempty"`
	Evidence    *string  `dynamodbav:"evd,omitempty"`
	Rating      *int     `dynamodbav:"rt,omitempty"`
	CreatedAt   int64    `dynamodbav:"crt"`
	UpdatedAt   int64    `dynamodbav:"upd"`
	ExpiresAt   *int64   `dynamodbav:"exp,omitempty"`
}

type codeItem struct {
	Id         string `dynamodbav:"id"`
	Code       string `dynamodbav:"code"`
	Consumed   bool   `dynamodbav:"used"`
	CreatedAt  int64  `dynamodbav:"crt"`
	ConsumedAt *int64 `dynamodbav:"cat,omitempty"`
}

type profileItem struct {
	Ref          string `dynamodbav:"ref"`
	Role         string `dynamodbav:"role"`
	DisplayName  string `dynamodbav:"name"`
	Organization string `dynamodbav:"org,omitempty"`
	City         string `dynamodbav:"city,omitempty"`
	Contact      string `dynamodbav:"contact,omitempty"`
}

func NewRequestDb(ctx context.Context, logger models.Logger, client *dynamodb.Client) *RequestDatabase {
	env := os.Getenv(ecotrace.Env_Env)

	tablePfx := common.ServiceName + "-" + env + "-"
	rdb := RequestDatabase{
		client:       client,
		logger:       logger,
		requestTable: tablePfx + "request",
		codeTable:    tablePfx + "code",
		profileTable: tablePfx + "profile",
	}
	if err := rdb.createRequestTable(ctx); err != nil {
		log.Fatalf("ddb: request table creation failed: %v", err)
	} else if err = createTable(ctx, logger, client, hashKeyTable(rdb.codeTable, "id")); err != nil {
		log.Fatalf("ddb: code table creation failed: %v", err)
	} else if err = createTable(ctx, logger, client, hashKeyTable(rdb.profileTable, "ref")); err != nil {
		log.Fatalf("ddb: profile table creation failed: %v", err)
	}
	return &rdb
}

func (rdb *RequestDatabase) createRequestTable(ctx context.Context) error {
	createTableInput := hashKeyTable(rdb.requestTable, "id")
	createTableInput.AttributeDefinitions = append(
		createTableInput.AttributeDefinitions,
		types.AttributeDefinition{
			AttributeName: aws.String("stat"),
			AttributeType: "S",
		},
		types.AttributeDefinition{
			AttributeName: aws.String("cat"),
			AttributeType: "S",
		},
	)
	createTableInput.GlobalSecondaryIndexes = []types.GlobalSecondaryIndex{
		{
			IndexName: aws.String(statusIndex),
			KeySchema: []types.KeySchemaElement{
				{
					AttributeName: aws.String("stat"),
					KeyType:       "HASH",
				},
				{
					AttributeName: aws.String("cat"),
					KeyType:       "RANGE",
				},
			},
			Projection: &types.Projection{
				ProjectionType: types.ProjectionTypeAll,
			},
			ProvisionedThroughput: &types.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(1),
				WriteCapacityUnits: aws.Int64(1),
			},
		},
	}
	return createTable(ctx, rdb.logger, rdb.client, createTableInput)
}

func (rdb *RequestDatabase) CreateRequest(ctx context.Context, req *models.PickupRequest, code *models.VerificationCode) error {
	reqAttrs, err := attributevalue.MarshalMap(toRequestItem(req))
	if err != nil {
		return err
	}
	codeAttrs, err := attributevalue.MarshalMap(toCodeItem(code))
	if err != nil {
		return err
	}
	writeIn := dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					Item:                reqAttrs,
					TableName:           aws.String(rdb.requestTable),
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
			{
				Put: &types.Put{
					Item:                codeAttrs,
					TableName:           aws.String(rdb.codeTable),
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
		},
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if _, err = rdb.client.TransactWriteItems(httpCtx, &writeIn); err != nil {
		var cancelErr *types.TransactionCanceledException
		if errors.As(err, &cancelErr) {
			return fmt.Errorf("ddb: request %s already exists: %w", req.Id, err)
		}
		return err
	}
	return nil
}

func (rdb *RequestDatabase) GetRequest(ctx context.Context, id uuid.UUID) (*models.PickupRequest, error) {
	item := requestItem{}
	if found, err := rdb.getItem(ctx, rdb.requestTable, "id", id.String(), &item); err != nil {
		return nil, err
	} else if !found {
		return nil, models.ErrNotFound
	}
	return fromRequestItem(&item)
}

func (rdb *RequestDatabase) ReadCode(ctx context.Context, id uuid.UUID) (*models.VerificationCode, error) {
	item := codeItem{}
	if found, err := rdb.getItem(ctx, rdb.codeTable, "id", id.String(), &item); err != nil {
		return nil, err
	} else if !found {
		return nil, models.ErrNotFound
	}
	return fromCodeItem(&item)
}

func (rdb *RequestDatabase) GetProfile(ctx context.Context, ref string) (*models.Profile, error) {
	item := profileItem{}
	if found, err := rdb.getItem(ctx, rdb.profileTable, "ref", ref, &item); err != nil {
		return nil, err
	} else if !found {
		return nil, models.ErrNotFound
	}
	return &models.Profile{
		Ref:          item.Ref,
		Role:         models.Role(item.Role),
		DisplayName:  item.DisplayName,
		Organization: item.Organization,
		City:         item.City,
		Contact:      item.Contact,
	}, nil
}

func (rdb *RequestDatabase) PutProfile(ctx context.Context, profile *models.Profile) error {
	attributeValues, err := attributevalue.MarshalMap(profileItem{
		Ref:          profile.Ref,
		Role:         string(profile.Role),
		DisplayName:  profile.DisplayName,
		Organization: profile.Organization,
		City:         profile.City,
		Contact:      profile.Contact,
	})
	if err != nil {
		return err
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	_, err = rdb.client.PutItem(httpCtx, &dynamodb.PutItemInput{
		Item:      attributeValues,
		TableName: aws.String(rdb.profileTable),
	})
	return err
}

func (rdb *RequestDatabase) ListOpen(ctx context.Context, filter models.OpenFilter, now time.Time) ([]*models.PickupRequest, error) {
	keyCond := "#stat = :stat"
	exprValues := map[string]types.AttributeValue{
		":stat": &types.AttributeValueMemberS{Value: string(models.RequestStatus_Open)},
		":now":  &types.AttributeValueMemberN{Value: tsEncode(now)},
	}
	exprNames := map[string]string{
		"#stat": "stat",
		"#exp":  "exp",
	}
	if len(filter.Category) > 0 {
		keyCond += " and #cat = :cat"
		exprNames["#cat"] = "cat"
		exprValues[":cat"] = &types.AttributeValueMemberS{Value: filter.Category}
	}
	reqs, err := rdb.queryStatus(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(rdb.requestTable),
		IndexName:                 aws.String(statusIndex),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          aws.String("attribute_not_exists(asg) and (attribute_not_exists(#exp) or #exp >= :now)"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		return nil, err
	}
	return limitOldestFirst(reqs, filter.Limit), nil
}

func (rdb *RequestDatabase) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.PickupRequest, error) {
	reqs, err := rdb.queryStatus(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(rdb.requestTable),
		IndexName:              aws.String(statusIndex),
		KeyConditionExpression: aws.String("#stat = :stat"),
		FilterExpression:       aws.String("#exp < :now"),
		ExpressionAttributeNames: map[string]string{
			"#stat": "stat",
			"#exp":  "exp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stat": &types.AttributeValueMemberS{Value: string(models.RequestStatus_Open)},
			":now":  &types.AttributeValueMemberN{Value: tsEncode(now)},
		},
	})
	if err != nil {
		return nil, err
	}
	return limitOldestFirst(reqs, limit), nil
}

func (rdb *RequestDatabase) ListByRequester(ctx context.Context, requesterRef string) ([]*models.PickupRequest, error) {
	return rdb.scanByRef(ctx, "rqr", requesterRef)
}

func (rdb *RequestDatabase) ListByAssignee(ctx context.Context, handlerRef string) ([]*models.PickupRequest, error) {
	return rdb.scanByRef(ctx, "asg", handlerRef)
}

// SealedStats only projects the rating of each sealed request, which is all the track record needs.
func (rdb *RequestDatabase) SealedStats(ctx context.Context, requesterRef string) (int, *float64, error) {
	scanIn := dynamodb.ScanInput{
		TableName:            aws.String(rdb.requestTable),
		FilterExpression:     aws.String("rqr = :ref and #stat = :stat"),
		ProjectionExpression: aws.String("rt"),
		ExpressionAttributeNames: map[string]string{
			"#stat": "stat",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref":  &types.AttributeValueMemberS{Value: requesterRef},
			":stat": &types.AttributeValueMemberS{Value: string(models.RequestStatus_Sealed)},
		},
	}
	count := 0
	ratings := make([]int, 0)
	paginator := dynamodb.NewScanPaginator(rdb.client, &scanIn)
	for paginator.HasMorePages() {
		httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
		page, err := paginator.NextPage(httpCtx)
		httpCancel()
		if err != nil {
			return 0, nil, err
		}
		pageRatings, err := sealedRatings(page.Items)
		if err != nil {
			return 0, nil, err
		}
		count += len(page.Items)
		ratings = append(ratings, pageRatings...)
	}
	return count, models.AverageRating(ratings), nil
}

func (rdb *RequestDatabase) ConditionalClaim(ctx context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error) {
	return rdb.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		Key:                 idKey(id),
		TableName:           aws.String(rdb.requestTable),
		ConditionExpression: aws.String("attribute_exists(id) and #stat = :open and attribute_not_exists(asg) and (attribute_not_exists(#exp) or #exp >= :now)"),
		ExpressionAttributeNames: map[string]string{
			"#stat": "stat",
			"#exp":  "exp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":open":    &types.AttributeValueMemberS{Value: string(models.RequestStatus_Open)},
			":claimed": &types.AttributeValueMemberS{Value: string(models.RequestStatus_Claimed)},
			":ref":     &types.AttributeValueMemberS{Value: handlerRef},
			":now":     &types.AttributeValueMemberN{Value: tsEncode(now)},
		},
		UpdateExpression: aws.String("set #stat = :claimed, asg = :ref, upd = :now"),
	})
}

func (rdb *RequestDatabase) ConditionalRelease(ctx context.Context, id uuid.UUID, handlerRef string, now time.Time) (bool, error) {
	return rdb.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		Key:                 idKey(id),
		TableName:           aws.String(rdb.requestTable),
		ConditionExpression: aws.String("attribute_exists(id) and #stat = :claimed and asg = :ref"),
		ExpressionAttributeNames: map[string]string{
			"#stat": "stat",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":open":    &types.AttributeValueMemberS{Value: string(models.RequestStatus_Open)},
			":claimed": &types.AttributeValueMemberS{Value: string(models.RequestStatus_Claimed)},
			":ref":     &types.AttributeValueMemberS{Value: handlerRef},
			":now":     &types.AttributeValueMemberN{Value: tsEncode(now)},
		},
		UpdateExpression: aws.String("set #stat = :open, upd = :now remove asg"),
	})
}

func (rdb *RequestDatabase) ConditionalExpire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return rdb.conditionalUpdate(ctx, &dynamodb.UpdateItemInput{
		Key:                 idKey(id),
		TableName:           aws.String(rdb.requestTable),
		ConditionExpression: aws.String("attribute_exists(id) and #stat = :open and #exp < :now"),
		ExpressionAttributeNames: map[string]string{
			"#stat": "stat",
			"#exp":  "exp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":open":    &types.AttributeValueMemberS{Value: string(models.RequestStatus_Open)},
			":expired": &types.AttributeValueMemberS{Value: string(models.RequestStatus_Expired)},
			":now":     &types.AttributeValueMemberN{Value: tsEncode(now)},
		},
		UpdateExpression: aws.String("set #stat = :expired, upd = :now"),
	})
}

// ConditionalSeal consumes the code and seals the request in one transaction. Either both conditions hold and both
// rows change, or the transaction is cancelled and nothing does.
func (rdb *RequestDatabase) ConditionalSeal(ctx context.Context, in models.SealInput) (bool, error) {
	writeIn := dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					Key:                 idKey(in.Id),
					TableName:           aws.String(rdb.requestTable),
					ConditionExpression: aws.String("attribute_exists(id) and #stat = :claimed and asg = :ref"),
					ExpressionAttributeNames: map[string]string{
						"#stat": "stat",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":claimed": &types.AttributeValueMemberS{Value: string(models.RequestStatus_Claimed)},
						":sealed":  &types.AttributeValueMemberS{Value: string(models.RequestStatus_Sealed)},
						":ref":     &types.AttributeValueMemberS{Value: in.HandlerRef},
						":wt":      &types.AttributeValueMemberN{Value: fmt.Sprint(in.Weight)},
						":rt":      &types.AttributeValueMemberN{Value: fmt.Sprint(in.Rating)},
						":now":     &types.AttributeValueMemberN{Value: tsEncode(in.Now)},
					},
					UpdateExpression: aws.String("set #stat = :sealed, cwt = :wt, rt = :rt, upd = :now"),
				},
			},
			{
				Update: &types.Update{
					Key:                 idKey(in.Id),
					TableName:           aws.String(rdb.codeTable),
					ConditionExpression: aws.String("attribute_exists(id) and #code = :code and #used = :unused"),
					ExpressionAttributeNames: map[string]string{
						"#code": "code",
						"#used": "used",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":code":   &types.AttributeValueMemberS{Value: in.Code},
						":unused": &types.AttributeValueMemberBOOL{Value: false},
						":used":   &types.AttributeValueMemberBOOL{Value: true},
						":now":    &types.AttributeValueMemberN{Value: tsEncode(in.Now)},
					},
					UpdateExpression: aws.String("set #used = :used, cat = :now"),
				},
			},
		},
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if _, err := rdb.client.TransactWriteItems(httpCtx, &writeIn); err != nil {
		var cancelErr *types.TransactionCanceledException
		if errors.As(err, &cancelErr) {
			// Not an error, just indicate that the seal did not apply
			rdb.logger.Debugf("ddb: seal of %s cancelled: %v", in.Id, err)
			return false, nil
		}
		rdb.logger.Errorf("ddb: error sealing %s: %v", in.Id, err)
		return false, err
	}
	return true, nil
}

func (rdb *RequestDatabase) conditionalUpdate(ctx context.Context, updateItemIn *dynamodb.UpdateItemInput) (bool, error) {
	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if _, err := rdb.client.UpdateItem(httpCtx, updateItemIn); err != nil {
		// To get a specific API error
		var condUpdErr *types.ConditionalCheckFailedException
		if errors.As(err, &condUpdErr) {
			// Not an error, just indicate that we couldn't update the entry
			return false, nil
		}
		rdb.logger.Errorf("ddb: error writing to db: %v", err)
		return false, err
	}
	return true, nil
}

func (rdb *RequestDatabase) getItem(ctx context.Context, table, key, value string, out interface{}) (bool, error) {
	getItemIn := dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			key: &types.AttributeValueMemberS{Value: value},
		},
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	getItemOut, err := rdb.client.GetItem(httpCtx, &getItemIn)
	if err != nil {
		return false, err
	}
	if getItemOut.Item == nil {
		return false, nil
	}
	return true, attributevalue.UnmarshalMap(getItemOut.Item, out)
}

func (rdb *RequestDatabase) queryStatus(ctx context.Context, queryIn *dynamodb.QueryInput) ([]*models.PickupRequest, error) {
	reqs := make([]*models.PickupRequest, 0)
	paginator := dynamodb.NewQueryPaginator(rdb.client, queryIn)
	for paginator.HasMorePages() {
		httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
		page, err := paginator.NextPage(httpCtx)
		httpCancel()
		if err != nil {
			return nil, err
		}
		if reqs, err = appendItems(reqs, page.Items); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

func (rdb *RequestDatabase) scanByRef(ctx context.Context, attr, ref string) ([]*models.PickupRequest, error) {
	scanIn := dynamodb.ScanInput{
		TableName:        aws.String(rdb.requestTable),
		FilterExpression: aws.String(attr + " = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
		},
	}
	reqs := make([]*models.PickupRequest, 0)
	paginator := dynamodb.NewScanPaginator(rdb.client, &scanIn)
	for paginator.HasMorePages() {
		httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
		page, err := paginator.NextPage(httpCtx)
		httpCancel()
		if err != nil {
			return nil, err
		}
		if reqs, err = appendItems(reqs, page.Items); err != nil {
			return nil, err
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs, nil
}

func appendItems(reqs []*models.PickupRequest, items []map[string]types.AttributeValue) ([]*models.PickupRequest, error) {
	for _, attrs := range items {
		item := requestItem{}
		if err := attributevalue.UnmarshalMap(attrs, &item); err != nil {
			return nil, err
		}
		req, err := fromRequestItem(&item)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func sealedRatings(items []map[string]types.AttributeValue) ([]int, error) {
	rated := make([]struct {
		Rating *int `dynamodbav:"rt"`
	}, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &rated); err != nil {
		return nil, err
	}
	ratings := make([]int, 0, len(rated))
	for _, item := range rated {
		if item.Rating != nil {
			ratings = append(ratings, *item.Rating)
		}
	}
	return ratings, nil
}

func limitOldestFirst(reqs []*models.PickupRequest, limit int) []*models.PickupRequest {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs
}

func idKey(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id.String()},
	}
}

func toRequestItem(req *models.PickupRequest) *requestItem {
	item := requestItem{
		Id:          req.Id.String(),
		Requester:   req.RequesterRef,
		Assignee:    req.AssigneeRef,
		Status:      string(req.Status),
		Category:    req.Category,
		Estimated:   req.EstimatedWeight,
		Collected:   req.CollectedWeight,
		Description: req.Description,
		Evidence:    req.EvidenceRef,
		Rating:      req.QualityRating,
		CreatedAt:   req.CreatedAt.UnixMilli(),
		UpdatedAt:   req.UpdatedAt.UnixMilli(),
	}
	if req.ExpiresAt != nil {
		exp := req.ExpiresAt.UnixMilli()
		item.ExpiresAt = &exp
	}
	return &item
}

func fromRequestItem(item *requestItem) (*models.PickupRequest, error) {
	id, err := uuid.Parse(item.Id)
	if err != nil {
		return nil, fmt.Errorf("ddb: invalid request id %q: %w", item.Id, err)
	}
	req := models.PickupRequest{
		Id:              id,
		RequesterRef:    item.Requester,
		AssigneeRef:     item.Assignee,
		Status:          models.RequestStatus(item.Status),
		Category:        item.Category,
		EstimatedWeight: item.Estimated,
		CollectedWeight: item.Collected,
		Description:     item.Description,
		EvidenceRef:     item.Evidence,
		QualityRating:   item.Rating,
		CreatedAt:       tsDecode(item.CreatedAt),
		UpdatedAt:       tsDecode(item.UpdatedAt),
	}
	if !req.Status.Valid() {
		return nil, fmt.Errorf("ddb: invalid status %q for request %s", item.Status, item.Id)
	}
	if item.ExpiresAt != nil {
		exp := tsDecode(*item.ExpiresAt)
		req.ExpiresAt = &exp
	}
	return &req, nil
}

func toCodeItem(code *models.VerificationCode) *codeItem {
	item := codeItem{
		Id:        code.RequestId.String(),
		Code:      code.Code,
		Consumed:  code.Consumed,
		CreatedAt: code.CreatedAt.UnixMilli(),
	}
	if code.ConsumedAt != nil {
		consumedAt := code.ConsumedAt.UnixMilli()
		item.ConsumedAt = &consumedAt
	}
	return &item
}

func fromCodeItem(item *codeItem) (*models.VerificationCode, error) {
	id, err := uuid.Parse(item.Id)
	if err != nil {
		return nil, fmt.Errorf("ddb: invalid code id %q: %w", item.Id, err)
	}
	code := models.VerificationCode{
		RequestId: id,
		Code:      item.Code,
		Consumed:  item.Consumed,
		CreatedAt: tsDecode(item.CreatedAt),
	}
	if item.ConsumedAt != nil {
		consumedAt := tsDecode(*item.ConsumedAt)
		code.ConsumedAt = &consumedAt
	}
	return &code, nil
}
