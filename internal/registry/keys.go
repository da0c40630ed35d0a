package registry

// Key families consumed from the registry delta stream. Family keys are
// "<prefix><principal>"; singleton keys are used verbatim.
const (
	KeyFamilyNode            = "node_record_"
	KeyFamilyOperator        = "node_operator_record_"
	KeyFamilySubnet          = "subnet_record_"
	KeyFamilyDataCenter      = "data_center_record_"
	KeyFamilyAPIBoundaryNode = "api_boundary_node_"

	KeyElectedReplicaVersions = "elected_replica_versions"
	KeyElectedHostOSVersions  = "elected_hostos_versions"
	KeyNodeRewardsTable       = "node_rewards_table"
	KeyNodeRewardTypes        = "node_reward_types"
	KeyUnassignedNodesConfig  = "unassigned_nodes_config"
)

// familyKey joins a family prefix and a principal's textual form.
func familyKey(prefix, suffix string) string { return prefix + suffix }
