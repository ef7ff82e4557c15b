package models

// SeriesRecord is one row of the crawl table: the metadata of a single DICOM
// series. Records are read-only once loaded.
type SeriesRecord struct {
	SeriesInstanceUID   string   `json:"SeriesInstanceUID"`
	Modality            Modality `json:"Modality"`
	PatientID           string   `json:"PatientID"`
	StudyInstanceUID    string   `json:"StudyInstanceUID"`
	ReferencedSeriesUID string   `json:"ReferencedSeriesUID,omitempty"`

	// Folder is the directory holding the series files.
	Folder string `json:"folder"`

	// Files lists the instance files of the series, relative to Folder.
	Files []string `json:"files,omitempty"`

	SeriesDescription   string `json:"SeriesDescription,omitempty"`
	FrameOfReferenceUID string `json:"FrameOfReferenceUID,omitempty"`
}

// HasReference reports whether the record points at another series.
func (r SeriesRecord) HasReference() bool {
	return r.ReferencedSeriesUID != ""
}
