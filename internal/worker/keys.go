package worker

import "fmt"

// Storage key scheme. Result keys are derived from user and job ids only, so
// a retried attempt overwrites its own partial output instead of leaking a
// second copy.

func uploadKey(userID, photoID string) string {
	return fmt.Sprintf("uploads/%s/%s.jpg", userID, photoID)
}

func processedKey(userID, jobID string) string {
	return fmt.Sprintf("processed/%s/%s.jpg", userID, jobID)
}

func processedMaskKey(userID, jobID string) string {
	return fmt.Sprintf("processed/%s/%s_mask.png", userID, jobID)
}

func styledKey(userID, jobID string, generative bool) string {
	if generative {
		return fmt.Sprintf("ai_art/%s/%s.jpg", userID, jobID)
	}
	return fmt.Sprintf("styled/%s/%s.jpg", userID, jobID)
}

func styledPreviewKey(userID, jobID string, generative bool) string {
	if generative {
		return fmt.Sprintf("ai_art/%s/%s_preview.jpg", userID, jobID)
	}
	return fmt.Sprintf("styled/%s/%s_preview.jpg", userID, jobID)
}

func exportKey(userID, jobID string) string {
	return fmt.Sprintf("exports/%s/%s.jpg", userID, jobID)
}

func fusionKey(jobID string) string {
	return fmt.Sprintf("fusion/%s.jpg", jobID)
}

func fusionThumbKey(jobID string) string {
	return fmt.Sprintf("fusion/%s_thumb.jpg", jobID)
}
