package storage

import (
	"encoding/json"
	"errors"

	"jointinv/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeBestModel(r model.BestModelRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeBestModel(data []byte) (model.BestModelRecord, error) {
	var record model.BestModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.BestModelRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.BestModelRecord{}, err
	}
	return record, nil
}

func EncodeEnsembleHead(head []model.CandidateRecord) ([]byte, error) {
	return json.Marshal(head)
}

func DecodeEnsembleHead(data []byte) ([]model.CandidateRecord, error) {
	var head []model.CandidateRecord
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	for _, record := range head {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return head, nil
}

func EncodeDiagnostics(r model.RunDiagnosticsRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeDiagnostics(data []byte) (model.RunDiagnosticsRecord, error) {
	var record model.RunDiagnosticsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.RunDiagnosticsRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.RunDiagnosticsRecord{}, err
	}
	return record, nil
}

func EncodeMisfitHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeMisfitHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
