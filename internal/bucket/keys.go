package bucket

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/Lllllllleong/documentworkflow/internal/models"
)

// Target folders for master-data addressing.
const (
	FolderMasterData  = "master_data"
	FolderProcessData = "process_data"
	FolderVersioning  = "versioning"
)

// StepConfig is the part of a step definition that participates in addressing.
type StepConfig interface {
	TargetFolder() string
}

// KeyParams selects one of the object-key shapes. Fields left at their zero
// value are treated as absent.
type KeyParams struct {
	RequestID     string
	File          models.FileRecord
	Step          *models.WorkflowStep
	StepConfig    StepConfig
	RerunAttempt  int
	MasterData    bool
	TargetFolder  string
	FullPrefix    bool
	VersionFolder string

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// ObjectName is the artifact file name for a step output. Attempts <= 1 are
// the original run and carry no rerun suffix.
func ObjectName(stem string, rerunAttempt int) string {
	if rerunAttempt > 1 {
		return fmt.Sprintf("%s_rerun_%d.json", stem, rerunAttempt)
	}
	return stem + ".json"
}

// ObjectKey derives the deterministic storage key. The first matching shape wins:
//
//	step, full prefix:  {folder}/{prefix}/{YYYYMMDD}/{request}/{NN}_{step}/{object}
//	step, prefix only:  {folder}/{prefix}/{YYYYMMDD}/{request}/{NN}_{step}/
//	master_data:        master_data/{stem}/{file}
//	process_data:       process_data/{stem}/{stem}_{processedAt}.json
//	versioning:         versioning/{stem}/{NNN}/{file}
func ObjectKey(p KeyParams) (string, error) {
	stem := p.File.FileNameWoExt

	if p.TargetFolder == "" {
		if p.Step == nil || p.StepConfig == nil {
			return "", fmt.Errorf("%w: step addressing needs a step and its config", ErrUnsupportedAddressing)
		}
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}

		prefix := fmt.Sprintf("%s/%s/%s/%s/%02d_%s/",
			p.StepConfig.TargetFolder(),
			prefixPart(p),
			now().UTC().Format("20060102"),
			p.RequestID,
			p.Step.StepOrder,
			p.Step.StepName,
		)
		if !p.FullPrefix {
			return prefix, nil
		}
		return prefix + ObjectName(stem, p.RerunAttempt), nil
	}

	if p.MasterData {
		switch p.TargetFolder {
		case FolderMasterData:
			return fmt.Sprintf("%s/%s/%s", FolderMasterData, stem, p.File.FileName), nil
		case FolderProcessData:
			return fmt.Sprintf("%s/%s/%s_%s.json", FolderProcessData, stem, stem, p.File.ProceedAt), nil
		case FolderVersioning:
			return fmt.Sprintf("%s/%s/%s/%s", FolderVersioning, stem, p.VersionFolder, p.File.FileName), nil
		}
	}

	return "", fmt.Errorf("%w: target folder %q (master data: %t)", ErrUnsupportedAddressing, p.TargetFolder, p.MasterData)
}

func prefixPart(p KeyParams) string {
	if p.MasterData {
		return p.File.FileNameWoExt
	}
	return p.File.FolderName + "/" + p.File.CustomerFolderName
}

// VersionPrefix is the listing prefix under which versions of a file live.
func VersionPrefix(stem string) string {
	return fmt.Sprintf("%s/%s/", FolderVersioning, stem)
}

// NextVersionFolder returns the zero-padded version folder following the
// highest one present in keys, or "001" when there is none.
func NextVersionFolder(keys []string, stem string) string {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(VersionPrefix(stem)) + `(\d{3})/`)

	latest := 0
	for _, key := range keys {
		m := re.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n > latest {
			latest = n
		}
	}
	return fmt.Sprintf("%03d", latest+1)
}
