package tools

import (
	"fmt"

	"github.com/ai4ops/fleet-mcp/pkg/anomaly"
	"github.com/ai4ops/fleet-mcp/pkg/backend"
	"github.com/ai4ops/fleet-mcp/pkg/config"
	"github.com/ai4ops/fleet-mcp/pkg/query"
)

const (
	serverMetadataQuery = `resources
| where type == 'microsoft.hybridcompute/machines'
| project name, type, location, resourceGroup, OsVersion=properties.osSku, processor=properties.detectedProperties.processorNames, coreCount=properties.detectedProperties.logicalCoreCount, RamGB=properties.detectedProperties.totalPhysicalMemoryInGigabytes, subnet=properties.networkProfile.networkInterfaces[0].ipAddresses[0].address, mssqlDiscovered=properties.mssqlDiscovered`

	sqlMetadataQuery = `resources
| where type =~ 'microsoft.azurearcdata/sqlserverinstances'
| project id, SrvName=name, SrvVersion=tostring(properties['version']), SrvLicenseType=tostring(properties['licenseType']), SrvEdition=tostring(properties['edition']), SrvvCore=toint(properties['vCore'])
| join kind=leftouter (
    resources
    | where type =~ 'microsoft.azurearcdata/sqlserverinstances/databases'
    | project id, DbName=name, DbBackupInformation=properties['backupInformation'], DbSpaceAvailableMB=toint(properties['spaceAvailableMB']), DbSizeMB=toint(properties['sizeMB'])
    | extend ServerId=tostring(parse_path(tostring(parse_path(['id'])['DirectoryPath']))['DirectoryPath'])
  ) on $left.id == $right.ServerId
| project-away id, id1`

	patchingLevelQuery = `patchassessmentresources
| where type == 'microsoft.hybridcompute/machines/patchassessmentresults/softwarepatches'
| project ServerName=extract(@'/machines/([^/]+)/', 1, id), MissedPatch=properties`

	sqlBpAssessmentQuery = `SqlAssessment_CL
| where TimeGenerated > ago({{.timespan}})
| extend asmt = parse_csv(RawData)
| where asmt[11] =~ 'MSSQLSERVER'
| extend CheckId=tostring(asmt[2]), Description=tostring(asmt[4]), HelpLink=tostring(asmt[5]), TargetType=case(asmt[6] == 1, 'Server', asmt[6] == 2, 'Database', ''), TargetName=tostring(asmt[7]), Severity=case(asmt[8] == 30, 'High', asmt[8] == 20, 'Medium', asmt[8] == 10, 'Low', asmt[8] == 0, 'Information', asmt[8] == 1, 'Warning', asmt[8] == 2, 'Critical', 'Passed'), Message=tostring(asmt[9]), TagsArr=split(tostring(asmt[10]), ','), Sev=toint(asmt[8])
| where set_has_element(dynamic([30, 20, 10, 0]), Sev)
| project TargetType, TargetName, Severity, Message, Tags=strcat_array(array_slice(TagsArr, 1, -1), ', '), CheckId, Description, HelpLink, SeverityCode=Sev
| order by SeverityCode desc, TargetType desc, TargetName asc
| project-away SeverityCode`

	swChangesQuery = `ConfigurationChange
| where TimeGenerated > ago({{.timespan}})
| where ConfigChangeType == 'Software' and Computer == {{kqlstr .server_name}}
| where SoftwareType !in ('Security Update', 'Update', 'Hotfix')
| project TimeGenerated, Computer, ChangeCategory, SoftwareType, SoftwareName, Previous, Publisher
| top 500 by TimeGenerated desc`

	swConfigQuery = `ConfigurationData
| where TimeGenerated > ago({{.timespan}})
| where Computer == {{kqlstr .server_name}} and SoftwareName != '' and SoftwareName !~ 'unknown'
| where SoftwareType !in ('Security Update', 'Update', 'Hotfix', 'Definition Update')
| summarize arg_max(TimeGenerated, *) by SoftwareName, Publisher, Computer, SoftwareType, CurrentVersion
| project SoftwareName, Publisher, Computer, TimeGenerated, SoftwareType, CurrentVersion
| top 1000 by SoftwareName asc`

	winBpAssessmentQuery = `WindowsServerAssessmentRecommendation
| where TimeGenerated > ago({{.timespan}})
| where FocusArea != 'EnvironementFilter' and RecommendationResult == 'Failed' and Computer != ''
| extend Weight = (RecommendationScore/10)
| where Weight >= 5.0
| summarize by Computer, Recommendation, ActionArea, AffectedObjectType, FocusArea, RecommendationId, Description, Weight
| top 500 by Weight desc`

	anomalyMetricsQuery = `InsightsMetrics
| where TimeGenerated >= ago({{.timespan}})
| where Namespace in ('Processor', 'LogicalDisk')
| where isnotempty(Val) and isfinite(Val)
| summarize AvgValue = avg(Val) by Computer, Namespace, bin(TimeGenerated, 1h)
| project TimeGenerated, Computer, Namespace, AvgValue
| sort by TimeGenerated asc`
)

// NewCatalog builds the static tool catalog. Each spec's template and input
// schema are compiled here, so a misconfigured spec aborts startup.
func NewCatalog(cfg *config.Config, execs Executors, detector *anomaly.Detector) ([]Tool, error) {
	subscriptionsParam := query.Param{
		Name:        "subscription_ids",
		Description: "Azure subscription IDs to query; defaults to the configured subscription when omitted",
		Kind:        query.KindStringArray,
	}
	workspaceParam := query.Param{
		Name:        "workspace_id",
		Description: "Log Analytics workspace ID; defaults to the configured workspace when omitted",
		Kind:        query.KindString,
	}
	timespanParam := query.Param{
		Name:        "timespan",
		Description: "Lookback window as a timespan literal, e.g. 30d or 12h",
		Kind:        query.KindDuration,
		Default:     cfg.DefaultTimespan,
	}
	serverNameParam := query.Param{
		Name:        "server_name",
		Description: "Name of the server to query",
		Kind:        query.KindString,
		Required:    true,
	}

	specs := []ToolSpec{
		{
			Name:        "resource_graph_query",
			Description: "Run an arbitrary KQL query against Azure Resource Graph",
			Params: []query.Param{
				{Name: "query", Description: "KQL query text", Kind: query.KindString, Required: true},
				subscriptionsParam,
			},
			Template: `{{raw .query}}`,
			Backend:  BackendInventory,
		},
		{
			Name:        "log_analytics_query",
			Description: "Run an arbitrary KQL query against an Azure Log Analytics workspace",
			Params: []query.Param{
				{Name: "query", Description: "KQL query text", Kind: query.KindString, Required: true},
				workspaceParam,
				timespanParam,
			},
			Template:     `{{raw .query}}`,
			Backend:      BackendLogs,
			PassTimespan: true,
		},
		{
			Name:        "GetServerMetadata",
			Description: "Retrieve the server infrastructure configuration: name, type, location, OS version, processor, core count, RAM, subnet, and whether SQL Server is installed",
			Params:      []query.Param{subscriptionsParam},
			Template:    serverMetadataQuery,
			Backend:     BackendInventory,
			Columns:     []string{"name", "type", "location", "resourceGroup", "OsVersion", "processor", "coreCount", "RamGB", "subnet", "mssqlDiscovered"},
			ScopeColumn: "subscriptionId",
		},
		{
			Name:        "GetSqlMetadata",
			Description: "Retrieve the SQL infrastructure configuration: servers/instances with version, license, edition, cores, and their databases with size, free space, and backup information",
			Params:      []query.Param{subscriptionsParam},
			Template:    sqlMetadataQuery,
			Backend:     BackendInventory,
			Columns:     []string{"SrvName", "SrvVersion", "SrvLicenseType", "SrvEdition", "SrvvCore", "DbName", "DbBackupInformation", "DbSpaceAvailableMB", "DbSizeMB"},
			ScopeColumn: "subscriptionId",
		},
		{
			Name:        "GetPatchingLevel",
			Description: "Retrieve the missed patches per server: name, KB, classification, published date, reboot behavior, and severity",
			Params:      []query.Param{subscriptionsParam},
			Template:    patchingLevelQuery,
			Backend:     BackendInventory,
			Columns:     []string{"ServerName", "MissedPatch"},
			ScopeColumn: "subscriptionId",
		},
		{
			Name:        "GetSqlBpAssessment",
			Description: "Retrieve SQL Server best-practices assessment findings from Log Analytics",
			Params:      []query.Param{workspaceParam, timespanParam},
			Template:    sqlBpAssessmentQuery,
			Backend:     BackendLogs,
			Columns:     []string{"TargetType", "TargetName", "Severity", "Message", "Tags", "CheckId", "Description", "HelpLink"},
		},
		{
			Name:        "GetSwChangesList",
			Description: "Retrieve the software configuration changes for a specific server: software name, publisher, change category, previous state",
			Params:      []query.Param{workspaceParam, serverNameParam, timespanParam},
			Template:    swChangesQuery,
			Backend:     BackendLogs,
			Columns:     []string{"TimeGenerated", "Computer", "ChangeCategory", "SoftwareType", "SoftwareName", "Previous", "Publisher"},
		},
		{
			Name:        "GetSwConfig",
			Description: "Retrieve the software installed on a specific server: name, publisher, type, and version",
			Params:      []query.Param{workspaceParam, serverNameParam, timespanParam},
			Template:    swConfigQuery,
			Backend:     BackendLogs,
			Columns:     []string{"SoftwareName", "Publisher", "Computer", "TimeGenerated", "SoftwareType", "CurrentVersion"},
		},
		{
			Name:        "GetWinBpAssessment",
			Description: "Retrieve Windows Server assessment recommendations: affected computer, recommendation, action area, and severity weight",
			Params:      []query.Param{workspaceParam, timespanParam},
			Template:    winBpAssessmentQuery,
			Backend:     BackendLogs,
			Columns:     []string{"Computer", "Recommendation", "ActionArea", "AffectedObjectType", "FocusArea", "RecommendationId", "Description", "Weight"},
		},
		{
			Name:        "GetAnomalies",
			Description: "Detect anomalies in Processor and LogicalDisk metrics across servers; each sample is classified against the per-server baseline",
			Params:      []query.Param{workspaceParam, timespanParam},
			Template:    anomalyMetricsQuery,
			Backend:     BackendLogs,
			Columns:     []string{"TimeGenerated", "Computer", "Namespace", "AvgValue"},
			TimeColumn:  "TimeGenerated",
			PostProcess: func(rows []backend.Row) (any, error) {
				records := detector.Detect(rows, anomaly.Keys{
					Entity: "Computer",
					Metric: "Namespace",
					Time:   "TimeGenerated",
					Value:  "AvgValue",
				})
				if records == nil {
					records = []anomaly.Record{}
				}
				return records, nil
			},
		},
	}

	catalog := make([]Tool, 0, len(specs))
	for _, spec := range specs {
		tool, err := NewSpecTool(spec, execs)
		if err != nil {
			return nil, fmt.Errorf("building tool catalog: %w", err)
		}
		catalog = append(catalog, tool)
	}
	return catalog, nil
}
