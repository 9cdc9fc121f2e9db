package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

func RepositoryID(val int64) zap.Field {
	return zap.Int64("github.repository_id", val)
}

func HeadRepositoryID(val int64) zap.Field {
	return zap.Int64("github.head_repository_id", val)
}

func InstallationID(val int64) zap.Field {
	return zap.Int64("github.installation_id", val)
}

func WorkflowRunID(val int64) zap.Field {
	return zap.Int64("github.workflow_run_id", val)
}

func WorkflowName(val string) zap.Field {
	return zap.String("github.workflow_name", val)
}

func CheckRunID(val int64) zap.Field {
	return zap.Int64("github.check_run_id", val)
}

func DeliveryID(val string) zap.Field {
	return zap.String("github.delivery_id", val)
}
