package services

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/documentworkflow/internal/bucket"
	"github.com/Lllllllleong/documentworkflow/internal/models"
	"github.com/Lllllllleong/documentworkflow/internal/steps"
)

// WriteJSONToStore writes its input to the target bucket. The key comes from
// the s3_key_prefix keyword, or defaults to the file's process_data key.
func (p *FileProcessor) WriteJSONToStore(ctx context.Context, sctx *steps.Context, args steps.Args) (any, error) {
	file := sctx.File
	logCtx := p.logger.With("requestId", sctx.Tracking.RequestID, "bucket", file.TargetBucketName)

	key, _ := args.Keyword[steps.KeyS3KeyPrefix].(string)
	if key == "" {
		var err error
		if key, err = processDataKey(file); err != nil {
			return models.Failed(nil, err.Error()), nil
		}
	}

	res, err := p.gateway.WriteJSON(ctx, file.TargetBucketName, key, args.Arg(0))
	if err != nil {
		logCtx.Error("Exception occurred while executing step 'write_json_to_s3'", "key", key, "error", err)
		return models.Failed(res, err.Error()), nil
	}
	logCtx.Info("JSON written.", "key", key)
	return models.Succeeded(res), nil
}

func processDataKey(file models.FileRecord) (string, error) {
	if file.DocumentType == models.DocumentTypeMasterData {
		return bucket.ObjectKey(bucket.KeyParams{
			File:         file,
			MasterData:   true,
			TargetFolder: bucket.FolderProcessData,
			FullPrefix:   true,
		})
	}
	if file.FolderName == "" || file.CustomerFolderName == "" {
		return "", fmt.Errorf("%w: order output needs folder and customer folder", bucket.ErrUnsupportedAddressing)
	}
	return fmt.Sprintf("%s/%s/%s/%s_%s.json",
		bucket.FolderProcessData, file.FolderName, file.CustomerFolderName, file.FileNameWoExt, file.ProceedAt), nil
}

// WriteRawToStore copies the raw file into its master_data folder and into the
// next versioning folder.
func (p *FileProcessor) WriteRawToStore(ctx context.Context, sctx *steps.Context, _ steps.Args) (any, error) {
	file := sctx.File
	logCtx := p.logger.With("requestId", sctx.Tracking.RequestID, "filePath", file.FilePath)
	logCtx.Info("Preparing to write raw master data.")

	fail := func(err error) (any, error) {
		logCtx.Error("Exception in write_raw_to_s3", "error", err)
		return models.Failed(nil, fmt.Sprintf("Exception in write_raw_to_s3: %v", err)), nil
	}

	key, err := bucket.ObjectKey(bucket.KeyParams{
		File:         file,
		MasterData:   true,
		TargetFolder: bucket.FolderMasterData,
		FullPrefix:   true,
	})
	if err != nil {
		return fail(err)
	}
	result, err := p.gateway.Copy(ctx, file.RawBucketName, file.FilePath, file.TargetBucketName, key)
	if err != nil {
		return fail(err)
	}

	existing := p.gateway.List(ctx, file.TargetBucketName, bucket.VersionPrefix(file.FileNameWoExt))
	versionKey, err := bucket.ObjectKey(bucket.KeyParams{
		File:          file,
		MasterData:    true,
		TargetFolder:  bucket.FolderVersioning,
		VersionFolder: bucket.NextVersionFolder(existing, file.FileNameWoExt),
		FullPrefix:    true,
	})
	if err != nil {
		return fail(err)
	}
	if _, err := p.gateway.Copy(ctx, file.RawBucketName, file.FilePath, file.TargetBucketName, versionKey); err != nil {
		return fail(err)
	}

	logCtx.Info("write_raw_to_s3 completed.", "key", key, "versionKey", versionKey)
	return models.Succeeded(result), nil
}

// SendToNotDefined is the failure reported by the send_to placeholder.
const SendToNotDefined = "Processor 'SEND_TO' is not define"

// SendTo has no delivery target yet and always fails, marking a copy of its
// input as failed.
func (p *FileProcessor) SendTo(_ context.Context, sctx *steps.Context, args steps.Args) (any, error) {
	p.logger.Warn(SendToNotDefined, "requestId", sctx.Tracking.RequestID)

	doc, err := parsedInput(args)
	if err != nil {
		return models.Failed(nil, SendToNotDefined), nil
	}
	failed := doc.Clone()
	failed.StepStatus = models.StatusFailed
	failed.Messages = []string{SendToNotDefined}
	return models.Failed(failed, SendToNotDefined), nil
}
